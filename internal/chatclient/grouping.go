package chatclient

import (
	"time"

	"mind-namo-go/internal/model"
)

// GroupedMessage 是带有分组标记的消息。同一角色连续发送的消息属于一组。
type GroupedMessage struct {
	model.Message
	FirstInGroup bool
	LastInGroup  bool
}

// DayGroup 是同一个自然日内的消息。
type DayGroup struct {
	Day      time.Time
	Messages []GroupedMessage
}

// Group 按 loc 时区的自然日对消息分组，并标记每组发送者的首尾消息。
// 只用于展示，不改变消息顺序。
func Group(msgs []model.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var days []DayGroup
	for _, m := range msgs {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if len(days) == 0 || !days[len(days)-1].Day.Equal(day) {
			days = append(days, DayGroup{Day: day})
		}
		g := &days[len(days)-1]
		gm := GroupedMessage{Message: m, FirstInGroup: true, LastInGroup: true}
		if n := len(g.Messages); n > 0 && g.Messages[n-1].SenderRole == m.SenderRole {
			gm.FirstInGroup = false
			g.Messages[n-1].LastInGroup = false
		}
		g.Messages = append(g.Messages, gm)
	}
	return days
}
