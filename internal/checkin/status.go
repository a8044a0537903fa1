package checkin

import "time"

// WindowStatus is one row of the check-in read model.
type WindowStatus struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	TimeOfDay      TimeOfDay `json:"time_of_day"`
	Completed      bool      `json:"completed"`
	Current        bool      `json:"current"`
	NextReminderAt time.Time `json:"next_reminder_at"`
}

// CheckInStatus is the read model handed to the presentation layer.
type CheckInStatus struct {
	StudyDay         int            `json:"study_day"`
	TotalDays        int            `json:"total_days"`
	CurrentWindowID  int            `json:"current_window_id"`
	CurrentStart     time.Time      `json:"current_start"`
	CurrentEnd       time.Time      `json:"current_end"`
	CurrentCompleted bool           `json:"current_completed"`
	Windows          []WindowStatus `json:"windows"`
}

// StatusInput carries already-defaulted inputs; the caller decides what a
// missing start date or a failed submission fetch turns into.
type StatusInput struct {
	Catalog     *Catalog
	Now         time.Time
	StudyDay    int
	TotalDays   int
	Submissions []time.Time
}

// BuildStatus composes the resolver, completion and day results. Windows
// other than the current one are judged on the interval starting on now's
// date, so each of them becomes pending again at local midnight; the
// current window is judged on the interval that contains now, which may
// have started yesterday.
func BuildStatus(in StatusInput) (*CheckInStatus, error) {
	current, err := Resolve(in.Catalog, in.Now)
	if err != nil {
		return nil, err
	}
	today, err := Intervals(in.Catalog, in.Now)
	if err != nil {
		return nil, err
	}
	out := &CheckInStatus{
		StudyDay:         in.StudyDay,
		TotalDays:        in.TotalDays,
		CurrentWindowID:  current.Window.ID,
		CurrentStart:     current.Start,
		CurrentEnd:       current.End,
		CurrentCompleted: IsComplete(current, in.Submissions),
		Windows:          make([]WindowStatus, 0, len(today)),
	}
	for _, iv := range today {
		isCurrent := iv.Window.ID == current.Window.ID
		if isCurrent {
			iv = current
		}
		out.Windows = append(out.Windows, WindowStatus{
			ID:             iv.Window.ID,
			Name:           iv.Window.Name,
			TimeOfDay:      iv.Window.At,
			Completed:      IsComplete(iv, in.Submissions),
			Current:        isCurrent,
			NextReminderAt: NextOccurrence(iv.Window.At, in.Now),
		})
	}
	return out, nil
}
