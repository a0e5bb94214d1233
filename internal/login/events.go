package login

import "github.com/desertthunder/qmx/internal/models"

type eventCodes struct {
	event models.LoginEvent
	codes []int
}

// eventTable maps provider status codes onto login events. Lookup is in order and the first
// match wins.
var eventTable = []eventCodes{
	{models.Confirmed, []int{0, 405}},
	{models.AwaitingScan, []int{66, 408}},
	{models.Scanned, []int{67, 404}},
	{models.Expired, []int{65}},
	{models.Refused, []int{68, 403}},
}

// ClassifyCode returns the event for a QQ or WX status code, [models.Unknown] when none matches.
func ClassifyCode(code int) models.LoginEvent {
	for _, e := range eventTable {
		for _, c := range e.codes {
			if c == code {
				return e.event
			}
		}
	}
	return models.Unknown
}
