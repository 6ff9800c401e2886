package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("ships queued events to the writer in order", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			payload, err := json.Marshal(StageCompletedEvent{
				DocumentID: uuid.New(),
				Stage:      "ocr_extraction",
				WorkerID:   "worker-1",
				DurationMs: 120,
			})
			Expect(err).To(BeNil())

			err = ep.Write(context.TODO(), StageCompletedKind, bytes.NewReader(payload))
			Expect(err).To(BeNil())
			err = ep.Write(context.TODO(), ResultsSealedKind, bytes.NewReader([]byte(`{"status":"completed"}`)))
			Expect(err).To(BeNil())

			Eventually(w.Count, "2s", "10ms").Should(Equal(2))

			sent := w.Events()
			Expect(sent[0].Type()).To(Equal(StageCompletedKind))
			Expect(sent[0].Source()).To(Equal(eventSource))
			Expect(sent[1].Type()).To(Equal(ResultsSealedKind))

			var got StageCompletedEvent
			Expect(json.Unmarshal(sent[0].Data(), &got)).To(Succeed())
			Expect(got.Stage).To(Equal("ocr_extraction"))
			Expect(got.DurationMs).To(Equal(int64(120)))

			Expect(ep.Close()).To(Succeed())
		})
	})
})

type testwriter struct {
	lock   sync.Mutex
	events []cloudevents.Event
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events = append(t.events, e)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.events)
}

func (t *testwriter) Events() []cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	out := make([]cloudevents.Event, len(t.events))
	copy(out, t.events)
	return out
}
