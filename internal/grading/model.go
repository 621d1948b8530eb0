package grading

// MarksComponent is a single "obtained / max" row of a subject's marks table.
type MarksComponent struct {
	// Label is the assessment the row belongs to (ISE 1, MSE, ...) when the row names one.
	Label    string  `json:"label,omitempty"`
	Obtained float64 `json:"obtained"`
	Max      float64 `json:"max"`
}

type SubjectRecord struct {
	Name            string           `json:"name"`
	MarksComponents []MarksComponent `json:"marksComponents"`
	TotalObtained   float64          `json:"totalObtained"`
	TotalMax        float64          `json:"totalMax"`
	Percentage      *float64         `json:"percentage"`
	Grade           Grade            `json:"grade"`
	GradePoint      *float64         `json:"gradePoint"`
	Credits         int              `json:"credits"`
}

// NewSubjectRecord totals the components and derives percentage, grade and grade point.
//
// The grade is taken from the unrounded percentage so a subject sitting at 84.996% stays an A.
func NewSubjectRecord(name string, components []MarksComponent, credits int) SubjectRecord {
	var obtained, max float64
	for _, c := range components {
		obtained += c.Obtained
		max += c.Max
	}

	var grade Grade
	if max > 0 {
		exact := obtained / max * 100
		grade = PercentToGrade(&exact)
	} else {
		grade = PercentToGrade(nil)
	}

	return SubjectRecord{
		Name:            name,
		MarksComponents: components,
		TotalObtained:   Round2(obtained),
		TotalMax:        Round2(max),
		Percentage:      Percentage(obtained, max),
		Grade:           grade,
		GradePoint:      GradePoint(grade),
		Credits:         credits,
	}
}

type ScrapeResult struct {
	SGPA          *float64        `json:"sgpa"`
	TotalMarksAll float64         `json:"totalMarksAll"`
	MaxMarksAll   float64         `json:"maxMarksAll"`
	Subjects      []SubjectRecord `json:"subjects"`
}

// Aggregate builds the terminal result for a set of subjects, it never mutates them.
func Aggregate(subjects []SubjectRecord) ScrapeResult {
	var obtained, max float64
	for _, s := range subjects {
		obtained += s.TotalObtained
		max += s.TotalMax
	}
	return ScrapeResult{
		SGPA:          WeightedSGPA(subjects),
		TotalMarksAll: Round2(obtained),
		MaxMarksAll:   Round2(max),
		Subjects:      subjects,
	}
}
