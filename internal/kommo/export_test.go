package kommo

import "time"

func (a *AmojoClient) SetClock(now func() time.Time) {
	a.now = now
}
