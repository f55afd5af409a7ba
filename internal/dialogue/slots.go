package dialogue

import "strings"

// Slot field names, in the order Missing reports them.
const (
	FieldPatientName = "patient_name"
	FieldDoctor      = "doctor_name"
	FieldDoctorID    = "doctor_id"
	FieldDate        = "date"
	FieldTime        = "time"
	FieldReason      = "reason"
	FieldPhone       = "phone"
)

// SlotSet is the booking information gathered so far. Empty means unfilled.
type SlotSet struct {
	PatientName string `json:"patient_name,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
	DoctorID    string `json:"doctor_id,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// entityKeys maps NLU entity names onto slot fields.
var entityKeys = map[string]string{
	"patient_name": FieldPatientName,
	"patient":      FieldPatientName,
	"name":         FieldPatientName,
	"doctor":       FieldDoctor,
	"doctor_name":  FieldDoctor,
	"doctor_id":    FieldDoctorID,
	"date":         FieldDate,
	"time":         FieldTime,
	"reason":       FieldReason,
	"phone":        FieldPhone,
	"phone_number": FieldPhone,
}

// FromEntities builds a SlotSet from loosely typed NLU output. Nil and
// blank values stay unfilled; unknown keys are ignored.
func FromEntities(entities map[string]*string) SlotSet {
	var s SlotSet
	for key, val := range entities {
		if val == nil {
			continue
		}
		field, ok := entityKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		s.set(field, *val)
	}
	return s
}

func (s *SlotSet) set(field, val string) {
	val = strings.TrimSpace(val)
	if val == "" || strings.EqualFold(val, "null") {
		return
	}
	switch field {
	case FieldPatientName:
		s.PatientName = val
	case FieldDoctor:
		s.DoctorName = val
	case FieldDoctorID:
		s.DoctorID = val
	case FieldDate:
		s.Date = val
	case FieldTime:
		s.Time = val
	case FieldReason:
		s.Reason = val
	case FieldPhone:
		s.Phone = val
	}
}

// FillFrom copies other's values into fields that are still empty.
func (s SlotSet) FillFrom(other SlotSet) SlotSet {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = strings.TrimSpace(src)
		}
	}
	fill(&s.PatientName, other.PatientName)
	fill(&s.DoctorName, other.DoctorName)
	fill(&s.DoctorID, other.DoctorID)
	fill(&s.Date, other.Date)
	fill(&s.Time, other.Time)
	fill(&s.Reason, other.Reason)
	fill(&s.Phone, other.Phone)
	return s
}

func (s SlotSet) HasDoctor() bool {
	return s.DoctorName != "" || s.DoctorID != ""
}

// Complete reports whether a booking can be attempted.
func (s SlotSet) Complete() bool {
	return len(s.Missing()) == 0
}

// Missing names the unfilled booking fields.
func (s SlotSet) Missing() []string {
	var missing []string
	if s.PatientName == "" {
		missing = append(missing, FieldPatientName)
	}
	if !s.HasDoctor() {
		missing = append(missing, FieldDoctor)
	}
	if s.Date == "" {
		missing = append(missing, FieldDate)
	}
	if s.Time == "" {
		missing = append(missing, FieldTime)
	}
	return missing
}

// Resolve merges the current turn's slots with the conversation so far.
// Turns are read newest first, the current one included. Within a turn the
// structured value wins over what the fallback extractor reads from its
// text, and a newer turn wins over an older one either way.
func Resolve(current SlotSet, transcript string, c *Context, fallback Extractor) SlotSet {
	merged := SlotSet{}.FillFrom(current)
	if fallback != nil {
		merged = merged.FillFrom(fallback.Extract(transcript))
	}
	if c == nil {
		return merged
	}

	c.eachRecent(func(t Turn) {
		merged = merged.FillFrom(t.Slots)
		if fallback != nil {
			merged = merged.FillFrom(fallback.Extract(t.UserText))
		}
	})
	return merged
}

