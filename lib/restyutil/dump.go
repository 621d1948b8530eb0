// Package restyutil dumps full http exchanges of a resty client for debugging scrapers.
package restyutil

import (
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type Output interface {
	Write(id string, contents string)
}

// DumpExchanges writes every completed request/response pair of client to output.
// Exchanges are numbered in completion order.
func DumpExchanges(client *resty.Client, output Output) {
	var counter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		if res.Request == nil || res.Request.RawRequest == nil {
			return nil
		}
		id := strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
		output.Write(id, formatHttpMessage(res))
		return nil
	})
}
