package events

import (
	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/listener"
)

// Reporter is a listener.Observer that publishes every notification as an
// event. It never blocks the notifier.
type Reporter struct {
	builder   *Builder
	publisher Publisher
}

var _ listener.Observer = (*Reporter)(nil)

// NewReporter creates a Reporter.
func NewReporter(builder *Builder, publisher Publisher) *Reporter {
	return &Reporter{builder: builder, publisher: publisher}
}

func (r *Reporter) NewCallCreated(info call.Info) {
	r.publisher.PublishAsync(r.builder.CallCreated(info))
}

func (r *Reporter) CallDestroyed(info call.Info) {
	r.publisher.PublishAsync(r.builder.CallEnded(info).Build())
}

func (r *Reporter) CallStateUpdated(info call.Info, prior call.TelCallState) {
	r.publisher.PublishAsync(r.builder.CallStateChanged(info, prior))
}

func (r *Reporter) IncomingCallHungUp(info call.Info, sendSms bool, content string) {
	r.publisher.PublishAsync(r.builder.IncomingHungUp(info, sendSms, content))
}

func (r *Reporter) IncomingCallActivated(info call.Info) {
	r.publisher.PublishAsync(r.builder.IncomingActivated(info))
}

func (r *Reporter) CallEventUpdated(ev listener.CallEvent) {
	r.publisher.PublishAsync(r.builder.CallDetail(ev))
}
