// Package grading maps marks to grades and grade points and aggregates subjects into an SGPA.
package grading

import "math"

type Grade string

const (
	GradeO  Grade = "O"
	GradeA  Grade = "A"
	GradeB  Grade = "B"
	GradeC  Grade = "C"
	GradeD  Grade = "D"
	GradeE  Grade = "E"
	GradeP  Grade = "P"
	GradeF  Grade = "F"
	GradeNA Grade = "NA"
)

var thresholds = []struct {
	min   float64
	grade Grade
}{
	{85, GradeO},
	{80, GradeA},
	{70, GradeB},
	{60, GradeC},
	{50, GradeD},
	{45, GradeE},
	{40, GradeP},
}

var gradePoints = map[Grade]float64{
	GradeO: 10,
	GradeA: 9,
	GradeB: 8,
	GradeC: 7,
	GradeD: 6,
	GradeE: 5,
	GradeP: 4,
	GradeF: 0,
}

// PercentToGrade maps a percentage to its letter grade, a nil percentage is NA.
func PercentToGrade(percentage *float64) Grade {
	if percentage == nil {
		return GradeNA
	}
	for _, t := range thresholds {
		if *percentage >= t.min {
			return t.grade
		}
	}
	return GradeF
}

// GradePoint returns the point value of a grade, NA (or anything unknown) has none.
func GradePoint(grade Grade) *float64 {
	point, ok := gradePoints[grade]
	if !ok {
		return nil
	}
	return &point
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// Percentage is obtained/max*100 rounded to 2 decimals, nil when max is not positive.
func Percentage(obtained, max float64) *float64 {
	if max <= 0 {
		return nil
	}
	p := Round2(obtained / max * 100)
	return &p
}

// WeightedSGPA is sum(gradePoint*credits)/sum(credits) over subjects that have a grade point,
// rounded to 2 decimals. It is nil when those subjects carry no credits.
func WeightedSGPA(subjects []SubjectRecord) *float64 {
	var weighted float64
	var credits int
	for _, s := range subjects {
		if s.GradePoint == nil {
			continue
		}
		weighted += *s.GradePoint * float64(s.Credits)
		credits += s.Credits
	}
	if credits == 0 {
		return nil
	}
	sgpa := Round2(weighted / float64(credits))
	return &sgpa
}
