package grading

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 {
	return &f
}

func TestPercentToGrade(t *testing.T) {
	testCases := []struct {
		percentage *float64
		expect     Grade
	}{
		{percentage: ptr(100), expect: GradeO},
		{percentage: ptr(85), expect: GradeO},
		{percentage: ptr(84.99), expect: GradeA},
		{percentage: ptr(80), expect: GradeA},
		{percentage: ptr(79.99), expect: GradeB},
		{percentage: ptr(70), expect: GradeB},
		{percentage: ptr(60), expect: GradeC},
		{percentage: ptr(50), expect: GradeD},
		{percentage: ptr(45), expect: GradeE},
		{percentage: ptr(44.99), expect: GradeP},
		{percentage: ptr(40), expect: GradeP},
		{percentage: ptr(39.99), expect: GradeF},
		{percentage: ptr(0), expect: GradeF},
		{percentage: nil, expect: GradeNA},
	}

	for _, test := range testCases {
		require.Equal(t, test.expect, PercentToGrade(test.percentage))
	}
}

func TestGradePoint(t *testing.T) {
	require.Equal(t, 10.0, *GradePoint(GradeO))
	require.Equal(t, 4.0, *GradePoint(GradeP))
	require.Equal(t, 0.0, *GradePoint(GradeF))
	require.Nil(t, GradePoint(GradeNA))
}

func TestWeightedSGPA(t *testing.T) {
	testCases := []struct {
		name     string
		subjects []SubjectRecord
		expect   *float64
	}{
		{
			name: "weighted by credits",
			subjects: []SubjectRecord{
				{GradePoint: ptr(10), Credits: 4},
				{GradePoint: ptr(8), Credits: 2},
			},
			expect: ptr(9.33),
		},
		{
			name:     "empty",
			subjects: nil,
			expect:   nil,
		},
		{
			name: "NA subjects are skipped entirely",
			subjects: []SubjectRecord{
				{GradePoint: ptr(9), Credits: 3},
				{GradePoint: nil, Credits: 4},
			},
			expect: ptr(9),
		},
		{
			name: "only NA",
			subjects: []SubjectRecord{
				{GradePoint: nil, Credits: 4},
			},
			expect: nil,
		},
		{
			name: "failed subjects pull the average down",
			subjects: []SubjectRecord{
				{GradePoint: ptr(10), Credits: 3},
				{GradePoint: ptr(0), Credits: 1},
			},
			expect: ptr(7.5),
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			got := WeightedSGPA(test.subjects)
			if diff := cmp.Diff(test.expect, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestNewSubjectRecord(t *testing.T) {
	record := NewSubjectRecord("Applied Physics", []MarksComponent{
		{Obtained: 18, Max: 20},
		{Obtained: 17, Max: 20},
		{Obtained: 34, Max: 40},
	}, 3)

	expect := SubjectRecord{
		Name: "Applied Physics",
		MarksComponents: []MarksComponent{
			{Obtained: 18, Max: 20},
			{Obtained: 17, Max: 20},
			{Obtained: 34, Max: 40},
		},
		TotalObtained: 69,
		TotalMax:      80,
		Percentage:    ptr(86.25),
		Grade:         GradeO,
		GradePoint:    ptr(10),
		Credits:       3,
	}
	if diff := cmp.Diff(expect, record); diff != "" {
		t.Fatal(diff)
	}

	empty := NewSubjectRecord("Seminar", nil, 1)
	require.Nil(t, empty.Percentage)
	require.Equal(t, GradeNA, empty.Grade)
	require.Nil(t, empty.GradePoint)
}

func TestAggregate(t *testing.T) {
	result := Aggregate([]SubjectRecord{
		NewSubjectRecord("A", []MarksComponent{{Obtained: 45, Max: 50}}, 4),
		NewSubjectRecord("B", []MarksComponent{{Obtained: 36, Max: 50}}, 2),
	})
	require.Equal(t, 81.0, result.TotalMarksAll)
	require.Equal(t, 100.0, result.MaxMarksAll)
	// 90% -> O (10), 72% -> B (8)
	require.Equal(t, 9.33, *result.SGPA)
}
