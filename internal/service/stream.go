package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/scrape"
	"github.com/gorilla/websocket"
)

const maxRequestBody = 4 << 10

func (s *Service) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrape.Request
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.tel.ReportBroken(report_service_stream, "response writer does not support flushing")
		s.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.Header().Set("x-accel-buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.scraper.Scrape(r.Context(), req, func(ev scrape.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.tel.ReportBroken(report_service_stream, err)
			return
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
		if err != nil {
			s.tel.ReportDebug("write event", err)
			return
		}
		flusher.Flush()
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const websocketRequestTimeout = 10 * time.Second

func (s *Service) handleScrapeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.tel.ReportDebug("websocket upgrade", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBody)

	var req scrape.Request
	conn.SetReadDeadline(s.time.Now().Add(websocketRequestTimeout))
	err = conn.ReadJSON(&req)
	if err != nil {
		conn.WriteJSON(scrape.Event{Type: scrape.EventError, Error: "Invalid request body"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client never sends anything else, a failed read means it went away
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.scraper.Scrape(ctx, req, func(ev scrape.Event) {
		err := conn.WriteJSON(ev)
		if err != nil {
			s.tel.ReportWarning(report_service_websocket, err)
		}
	})

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		s.time.Now().Add(time.Second),
	)
}
