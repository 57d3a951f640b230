package academics

import (
	"fmt"
	"strings"
)

// gradeScale is the canonical letter-grade ordering, best first. Comparisons
// between grades always go through this table, never through string compare.
var gradeScale = []string{"A", "A-", "B+", "B", "B-", "C+", "C", "C-", "D+", "D", "D-", "F"}

var gradeRank = func() map[string]int {
	m := make(map[string]int, len(gradeScale))
	for i, g := range gradeScale {
		// Higher rank = better grade
		m[g] = len(gradeScale) - i
	}
	return m
}()

// GradeRank returns the ordinal position of a letter grade (higher is better),
// or an error for a grade outside the scale.
func GradeRank(grade string) (int, error) {
	r, ok := gradeRank[strings.ToUpper(strings.TrimSpace(grade))]
	if !ok {
		return 0, fmt.Errorf("unknown grade: %q", grade)
	}
	return r, nil
}

// GradeMeets reports whether the earned grade is at least the minimum grade.
func GradeMeets(earned, minimum string) (bool, error) {
	er, err := GradeRank(earned)
	if err != nil {
		return false, err
	}
	mr, err := GradeRank(minimum)
	if err != nil {
		return false, err
	}
	return er >= mr, nil
}

// ClassStanding is an ordered academic level.
type ClassStanding int

const (
	StandingUnknown ClassStanding = iota
	Freshman
	Sophomore
	Junior
	Senior
)

var standingNames = map[ClassStanding]string{
	Freshman:  "freshman",
	Sophomore: "sophomore",
	Junior:    "junior",
	Senior:    "senior",
}

func (s ClassStanding) String() string {
	if name, ok := standingNames[s]; ok {
		return name
	}
	return "unknown"
}

// AtLeast reports whether the standing meets a minimum level.
func (s ClassStanding) AtLeast(min ClassStanding) bool {
	return s >= min
}

// ParseStanding converts a standing name to its ordered value.
func ParseStanding(name string) (ClassStanding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "freshman":
		return Freshman, nil
	case "sophomore":
		return Sophomore, nil
	case "junior":
		return Junior, nil
	case "senior":
		return Senior, nil
	default:
		return StandingUnknown, fmt.Errorf("unknown class standing: %q", name)
	}
}

func (s ClassStanding) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ClassStanding) UnmarshalText(data []byte) error {
	parsed, err := ParseStanding(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
