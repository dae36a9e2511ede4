package bus

import "testing"

func TestDecodeTaskCreatedRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing eventId", `{"eventName":"task.created.event","payload":{"taskId":"t1","filePath":"p","originalFileName":"f.xlsx"}}`},
		{"missing payload", `{"eventId":"e1","eventName":"task.created.event"}`},
		{"not json", `not-json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeTaskCreated([]byte(tc.body)); err == nil {
				t.Fatalf("expected an error for %s", tc.name)
			}
		})
	}
}

func TestDecodeTaskCreatedAcceptsWellFormedMessage(t *testing.T) {
	body := `{"eventId":"e1","eventName":"task.created.event","payload":{"taskId":"t1","filePath":"uploads/x/f.xlsx","originalFileName":"f.xlsx"}}`
	msg, err := DecodeTaskCreated([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.EventID != "e1" || msg.Payload.TaskID != "t1" {
		t.Fatalf("unexpected decode result: %+v", msg)
	}
}
