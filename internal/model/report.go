package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Report field keys as returned by the lookup service.
const (
	FieldRoll        = "roll"
	FieldStudentName = "studentName"
	FieldCourseCode  = "courseCode"
	FieldDepartment  = "department"
	FieldYear        = "year"
	FieldMentor      = "mentor"
	FieldCumPoints   = "cumPoints"
	FieldRedeemed    = "redeemed"
	FieldBalance     = "balance"
	FieldYearAvg     = "yearAvg"
	FieldStatus      = "status"
)

// Report is the flat payload produced by the lookup service. Values may be
// strings, numbers or absent.
type Report map[string]any

// Text renders the named field, or fallback when the field is absent or null.
func (r Report) Text(key, fallback string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fallback
		}
		return string(b)
	}
}

// Clone returns a shallow copy so callers can't mutate a cached payload.
func (r Report) Clone() Report {
	if r == nil {
		return nil
	}
	out := make(Report, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ReportRecord is one append-only entry of report history.
type ReportRecord struct {
	ID        string
	UserID    int64
	RollNo    string
	Report    Report
	CreatedAt time.Time
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
