package attendance

import "time"

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient operator message. It disappears on its own once
// ExpiresAt passes; clearing it never touches the roster.
type Notice struct {
	ID        uint64    `json:"id"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	PostedAt  time.Time `json:"posted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// postLocked adds a notice and schedules its removal. d.mu must be held.
func (d *Desk) postLocked(level Level, text string, ttl time.Duration) Notice {
	d.noticeSeq++
	now := d.now()
	n := Notice{ID: d.noticeSeq, Level: level, Text: text, PostedAt: now, ExpiresAt: now.Add(ttl)}
	d.notices = append(d.notices, n)
	d.after(ttl, func() { d.dismiss(n.ID) })
	return n
}

// dismiss removes only the notice with id; a newer notice posted in the
// meantime survives.
func (d *Desk) dismiss(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, n := range d.notices {
		if n.ID == id {
			d.notices = append(d.notices[:i:i], d.notices[i+1:]...)
			return
		}
	}
}
