package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/listener"
	"github.com/sebas/callservice/internal/callservice/store"
)

const (
	// ActiveSessionTTL bounds how long a session is tracked.
	ActiveSessionTTL = 4 * time.Hour
	// TerminatedSessionTTL keeps ended sessions around to absorb retransmissions (RFC 3261 Timer B).
	TerminatedSessionTTL = 32 * time.Second
	// SessionCleanupInterval is how often ended sessions are swept.
	SessionCleanupInterval = 10 * time.Second

	reportTimeout  = 5 * time.Second
	requestTimeout = 5 * time.Second
	dialTimeout    = 60 * time.Second
)

// SIPConfig configures the VoIP adapter.
type SIPConfig struct {
	Network       string // "udp" or "tcp"
	ListenAddr    string // host:port to bind
	AdvertiseAddr string // address placed in Contact and SDP
	Port          int    // advertised SIP port
	MediaPort     int    // advertised RTP port
	Domain        string // domain used to build dial targets
	// CallType is the type given to incoming calls: TypeVoIP (default) or
	// TypeIMS when the adapter fronts an IMS core.
	CallType call.CallType
}

// sipSession tracks the SIP dialog behind one VoIP call.
type sipSession struct {
	mu sync.Mutex

	callID    int
	sipCallID string
	direction call.Direction

	invite *sip.Request
	tx     sip.ServerTransaction      // inbound INVITE transaction
	dialog *sipgo.DialogServerSession // inbound, set once answered
	resp   *sip.Response              // outbound, 2xx to our INVITE
	cancel context.CancelFunc         // outbound, aborts the pending INVITE
	done   chan struct{}              // closed when the inbound offer is settled
	ended  bool
	rtt    *rttStream
}

// remoteSDP returns the peer's session description once the call is set up.
func (s *sipSession) remoteSDP() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.direction == call.DirectionIncoming {
		return s.invite.Body()
	}
	if s.resp != nil {
		return s.resp.Body()
	}
	return nil
}

func (s *sipSession) stopRTT() {
	s.mu.Lock()
	rtt := s.rtt
	s.rtt = nil
	s.mu.Unlock()
	if rtt != nil {
		_ = rtt.Close()
	}
}

func (s *sipSession) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}

func (s *sipSession) answered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp != nil || s.dialog != nil
}

func (s *sipSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SIPAdapter carries VoIP calls over SIP.
type SIPAdapter struct {
	Unsupported

	cfg      SIPConfig
	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	client   *sipgo.Client
	dialogUA *sipgo.DialogUA

	mu       sync.RWMutex
	reporter Reporter
	byCall   map[int]*sipSession

	// Sessions by SIP Call-ID; ended ones linger for TerminatedSessionTTL.
	sessions *store.TTLStore[string, *sipSession]
}

var _ Adapter = (*SIPAdapter)(nil)

// NewSIPAdapter creates the user agent and registers request handlers.
func NewSIPAdapter(cfg SIPConfig) (*SIPAdapter, error) {
	if cfg.Network == "" {
		cfg.Network = "udp"
	}
	if cfg.CallType != call.TypeIMS {
		cfg.CallType = call.TypeVoIP
	}
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	a := &SIPAdapter{
		cfg:    cfg,
		ua:     ua,
		srv:    srv,
		client: client,
		dialogUA: &sipgo.DialogUA{
			Client:     client,
			ContactHDR: sip.ContactHeader{Address: localContact(cfg)},
		},
		byCall:   make(map[int]*sipSession),
		sessions: store.NewTTLStore[string, *sipSession](SessionCleanupInterval),
	}

	srv.OnRequest(sip.INVITE, a.handleINVITE)
	srv.OnRequest(sip.ACK, a.handleACK)
	srv.OnRequest(sip.BYE, a.handleBYE)
	srv.OnRequest(sip.CANCEL, a.handleCANCEL)

	slog.Info("[SIP] Handlers registered", "methods", "INVITE, ACK, BYE, CANCEL")
	return a, nil
}

func localContact(cfg SIPConfig) sip.Uri {
	return sip.Uri{Scheme: "sip", User: "callservice", Host: cfg.AdvertiseAddr, Port: cfg.Port}
}

// CallType returns the call type this adapter carries.
func (a *SIPAdapter) CallType() call.CallType {
	return a.cfg.CallType
}

// SetReporter attaches the core that receives reports.
func (a *SIPAdapter) SetReporter(r Reporter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reporter = r
}

func (a *SIPAdapter) getReporter() Reporter {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reporter
}

// Start serves SIP until ctx is cancelled.
func (a *SIPAdapter) Start(ctx context.Context) error {
	slog.Info("[SIP] Starting server", "network", a.cfg.Network, "listen_addr", a.cfg.ListenAddr)
	if err := a.srv.ListenAndServe(ctx, a.cfg.Network, a.cfg.ListenAddr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sip server: %w", err)
	}
	return nil
}

// Close ends every session and releases the user agent.
func (a *SIPAdapter) Close() error {
	a.mu.RLock()
	ids := make([]int, 0, len(a.byCall))
	for id := range a.byCall {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	for _, id := range ids {
		if err := a.HangUp(context.Background(), id); err != nil {
			slog.Debug("[SIP] Hangup on close failed", "call_id", id, "error", err)
		}
	}
	a.sessions.Close()
	return a.ua.Close()
}

func (a *SIPAdapter) track(s *sipSession) {
	a.mu.Lock()
	a.byCall[s.callID] = s
	a.mu.Unlock()
	a.sessions.Set(s.sipCallID, s, ActiveSessionTTL)
}

func (a *SIPAdapter) forget(s *sipSession) {
	a.mu.Lock()
	delete(a.byCall, s.callID)
	a.mu.Unlock()
	a.sessions.Set(s.sipCallID, s, TerminatedSessionTTL)
}

func (a *SIPAdapter) session(op string, callID int) (*sipSession, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.byCall[callID]
	if !ok {
		return nil, callerr.ForCall(op, callerr.KindNotFound, callerr.ReasonCallNotExist, callID)
	}
	return s, nil
}

func sipCallID(req *sip.Request) string {
	if req.CallID() == nil {
		return ""
	}
	// Cast directly; String() adds the "Call-ID: " prefix
	return string(*req.CallID())
}

func (a *SIPAdapter) disconnected(s *sipSession, reason call.EndedType, msg string) {
	s.settle()
	s.stopRTT()
	a.forget(s)
	r := a.getReporter()
	if r == nil || s.callID == 0 {
		return
	}
	if err := r.ReportDisconnected(s.callID, reason, msg); err != nil {
		slog.Debug("[SIP] Disconnect report failed", "call_id", s.callID, "error", err)
	}
}

func (a *SIPAdapter) stateChanged(s *sipSession, state call.TelCallState) {
	r := a.getReporter()
	if r == nil {
		return
	}
	if err := r.ReportStateChange(s.callID, state); err != nil {
		slog.Debug("[SIP] State report failed", "call_id", s.callID, "state", state, "error", err)
	}
}

// handleINVITE registers the offer as a ringing VoIP call and holds the
// transaction until the call is answered, rejected or cancelled.
func (a *SIPAdapter) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	id := sipCallID(req)
	if id == "" {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Missing Call-ID", nil))
		return
	}
	if _, exists := a.sessions.Get(id); exists {
		slog.Debug("[SIP] INVITE retransmission ignored", "sip_call_id", id)
		return
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)); err != nil {
		slog.Warn("[SIP] Failed to send 100 Trying", "sip_call_id", id, "error", err)
	}

	video, err := VideoStateFromSDP(req.Body())
	if err != nil {
		slog.Warn("[SIP] Rejecting INVITE with invalid SDP", "sip_call_id", id, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil))
		return
	}

	r := a.getReporter()
	if r == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil))
		return
	}

	attrs := call.Attributes{
		Type:        a.cfg.CallType,
		Direction:   call.DirectionIncoming,
		VideoState:  video,
		TransportID: id,
	}
	if from := req.From(); from != nil {
		attrs.Number = from.Address.User
		attrs.ContactName = from.DisplayName
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	callID, err := r.ReportIncomingCall(ctx, attrs)
	cancel()
	if err != nil {
		slog.Info("[SIP] Incoming call refused", "sip_call_id", id, "error", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 486, "Busy Here", nil))
		return
	}

	s := &sipSession{
		callID:    callID,
		sipCallID: id,
		direction: call.DirectionIncoming,
		invite:    req,
		tx:        tx,
		done:      make(chan struct{}),
	}
	a.track(s)

	if err := tx.Respond(sip.NewResponseFromRequest(req, 180, "Ringing", nil)); err != nil {
		slog.Warn("[SIP] Failed to send 180 Ringing", "call_id", callID, "error", err)
	}
	slog.Info("[SIP] Incoming call ringing", "call_id", callID, "sip_call_id", id, "from", attrs.Number)

	select {
	case <-s.done:
	case <-tx.Done():
		if !s.isEnded() {
			a.disconnected(s, call.EndedMissed, "transaction ended")
		}
	}
}

func (a *SIPAdapter) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	s, ok := a.sessions.Get(sipCallID(req))
	if !ok {
		slog.Debug("[SIP] ACK for unknown session", "sip_call_id", sipCallID(req))
		return
	}
	s.mu.Lock()
	dlg := s.dialog
	s.mu.Unlock()
	if dlg == nil {
		return
	}
	if err := dlg.ReadAck(req, tx); err != nil {
		slog.Warn("[SIP] Failed to read ACK", "call_id", s.callID, "error", err)
	}
}

func (a *SIPAdapter) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	s, ok := a.sessions.Get(sipCallID(req))
	if !ok {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}

	s.mu.Lock()
	dlg := s.dialog
	s.mu.Unlock()
	if dlg != nil {
		if err := dlg.ReadBye(req, tx); err != nil {
			slog.Warn("[SIP] Failed to read BYE", "call_id", s.callID, "error", err)
		}
		_ = dlg.Close()
	} else {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	}

	slog.Info("[SIP] BYE received", "call_id", s.callID)
	a.disconnected(s, call.EndedRemoteHangup, "remote BYE")
}

func (a *SIPAdapter) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	s, ok := a.sessions.Get(sipCallID(req))
	if !ok || s.isEnded() {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	if s.tx != nil {
		_ = s.tx.Respond(sip.NewResponseFromRequest(s.invite, 487, "Request Terminated", nil))
	}

	slog.Info("[SIP] CANCEL received", "call_id", s.callID)
	a.disconnected(s, call.EndedMissed, "cancelled")
}

func (a *SIPAdapter) Answer(ctx context.Context, callID int, video call.VideoState) error {
	s, err := a.session("Answer", callID)
	if err != nil {
		return err
	}
	if s.direction != call.DirectionIncoming || s.isEnded() {
		return callerr.ForCall("Answer", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}

	body, err := BuildAnswerSDP(s.invite.Body(), a.cfg.AdvertiseAddr, a.cfg.MediaPort, video)
	if err != nil {
		return callerr.Wrap("Answer", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument, err)
	}
	dlg, err := a.dialogUA.ReadInvite(s.invite, s.tx)
	if err != nil {
		return fmt.Errorf("failed to create dialog session: %w", err)
	}
	if err := dlg.RespondSDP(body); err != nil {
		_ = dlg.Close()
		return fmt.Errorf("failed to send 200 OK: %w", err)
	}

	s.mu.Lock()
	s.dialog = dlg
	s.mu.Unlock()
	s.settle()

	slog.Info("[SIP] Call answered", "call_id", callID)
	a.stateChanged(s, call.StateActive)
	return nil
}

func (a *SIPAdapter) Reject(ctx context.Context, callID int, sendSms bool, content string) error {
	s, err := a.session("Reject", callID)
	if err != nil {
		return err
	}
	if s.direction != call.DirectionIncoming {
		return callerr.ForCall("Reject", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	if err := s.tx.Respond(sip.NewResponseFromRequest(s.invite, 603, "Decline", nil)); err != nil {
		slog.Warn("[SIP] Failed to send 603 Decline", "call_id", callID, "error", err)
	}
	a.disconnected(s, call.EndedRejected, "declined")
	return nil
}

func (a *SIPAdapter) HangUp(ctx context.Context, callID int) error {
	s, err := a.session("HangUp", callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	dlg, resp, cancel := s.dialog, s.resp, s.cancel
	s.mu.Unlock()

	switch {
	case dlg != nil:
		byeCtx, done := context.WithTimeout(ctx, requestTimeout)
		if err := dlg.Bye(byeCtx); err != nil {
			slog.Warn("[SIP] Failed to send BYE", "call_id", callID, "error", err)
		}
		done()
		_ = dlg.Close()
	case s.direction == call.DirectionIncoming:
		_ = s.tx.Respond(sip.NewResponseFromRequest(s.invite, 487, "Request Terminated", nil))
	case resp != nil:
		if err := a.sendBYE(ctx, s); err != nil {
			slog.Warn("[SIP] Failed to send BYE", "call_id", callID, "error", err)
		}
	case cancel != nil:
		// The dial goroutine sends CANCEL.
		cancel()
	}

	a.disconnected(s, call.EndedLocalHangup, "local hangup")
	return nil
}

// StartRtt opens a T.140 stream towards the text port the peer advertised
// and sends message as the first block when it is not empty.
func (a *SIPAdapter) StartRtt(ctx context.Context, callID int, message string) error {
	s, err := a.session("StartRtt", callID)
	if err != nil {
		return err
	}
	if !s.answered() || s.isEnded() {
		return callerr.ForCall("StartRtt", callerr.KindIllegalOperation, callerr.ReasonIllegalCallState, callID)
	}
	remote, pt, ok, err := TextStreamFromSDP(s.remoteSDP())
	if err != nil {
		return callerr.Wrap("StartRtt", callerr.KindArgumentInvalid, callerr.ReasonInvalidArgument, err)
	}
	if !ok {
		return callerr.ForCall("StartRtt", callerr.KindIllegalOperation, callerr.ReasonUnsupported, callID)
	}

	s.mu.Lock()
	rtt, started := s.rtt, false
	if rtt == nil {
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to open text socket: %w", err)
		}
		rtt = newRTTStream(conn, remote, pt)
		s.rtt, started = rtt, true
	}
	s.mu.Unlock()
	if started {
		slog.Info("[SIP] RTT started", "call_id", callID, "remote", remote.String())
		a.callEvent(s, listener.EventRttStarted)
	}
	if message != "" {
		if err := rtt.Send(message); err != nil {
			return fmt.Errorf("failed to send text: %w", err)
		}
	}
	return nil
}

// StopRtt closes the call's text stream.
func (a *SIPAdapter) StopRtt(ctx context.Context, callID int) error {
	s, err := a.session("StopRtt", callID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	running := s.rtt != nil
	s.mu.Unlock()
	if !running {
		return callerr.ForCall("StopRtt", callerr.KindAlreadyInState, callerr.ReasonIllegalCallState, callID)
	}
	s.stopRTT()
	slog.Info("[SIP] RTT stopped", "call_id", callID)
	a.callEvent(s, listener.EventRttStopped)
	return nil
}

func (a *SIPAdapter) callEvent(s *sipSession, kind listener.EventKind) {
	r := a.getReporter()
	if r == nil {
		return
	}
	if err := r.ReportCallEvent(listener.CallEvent{CallID: s.callID, Kind: kind}); err != nil {
		slog.Debug("[SIP] Call event report failed", "call_id", s.callID, "event", kind, "error", err)
	}
}

// Dial sends an INVITE and reports progress as responses arrive.
func (a *SIPAdapter) Dial(ctx context.Context, req DialRequest) error {
	invite, err := a.buildINVITE(req)
	if err != nil {
		return callerr.Wrap("Dial", callerr.KindArgumentInvalid, callerr.ReasonInvalidNumber, err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	tx, err := a.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to send INVITE: %w", err)
	}

	s := &sipSession{
		callID:    req.CallID,
		sipCallID: sipCallID(invite),
		direction: call.DirectionOutgoing,
		invite:    invite,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.track(s)
	slog.Info("[SIP] INVITE sent", "call_id", req.CallID, "target", invite.Recipient.String())

	go a.awaitAnswer(dialCtx, s, tx)
	return nil
}

func (a *SIPAdapter) awaitAnswer(ctx context.Context, s *sipSession, tx sip.ClientTransaction) {
	defer tx.Terminate()
	for {
		select {
		case <-ctx.Done():
			if s.isEnded() {
				return
			}
			a.sendCANCEL(s)
			a.disconnected(s, call.EndedFailed, "dial timeout")
			return

		case <-tx.Done():
			if !s.answered() && !s.isEnded() {
				a.disconnected(s, call.EndedFailed, "transaction terminated")
			}
			return

		case resp := <-tx.Responses():
			if resp == nil {
				a.disconnected(s, call.EndedFailed, "no response")
				return
			}
			code := int(resp.StatusCode)
			switch {
			case code == 180 || code == 183:
				a.stateChanged(s, call.StateAlerting)
			case code >= 200 && code < 300:
				ack := sip.NewAckRequest(s.invite, resp, nil)
				if err := a.client.WriteRequest(ack); err != nil {
					slog.Warn("[SIP] Failed to send ACK", "call_id", s.callID, "error", err)
				}
				s.mu.Lock()
				s.resp = resp
				s.mu.Unlock()
				slog.Info("[SIP] Call answered by remote", "call_id", s.callID)
				a.stateChanged(s, call.StateActive)
				return
			case code >= 300:
				slog.Info("[SIP] Dial failed", "call_id", s.callID, "status", code, "reason", resp.Reason)
				a.disconnected(s, call.EndedFailed, fmt.Sprintf("%d %s", code, resp.Reason))
				return
			}
		}
	}
}

// buildINVITE constructs the outbound INVITE request.
func (a *SIPAdapter) buildINVITE(req DialRequest) (*sip.Request, error) {
	var target sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", req.Number, a.cfg.Domain), &target); err != nil {
		return nil, fmt.Errorf("invalid target URI: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", uuid.New().String()[:8])
	invite.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: "callservice", Host: a.cfg.AdvertiseAddr, Port: a.cfg.Port},
		Params:  fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(uuid.New().String())
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: localContact(a.cfg)})

	body, err := BuildAnswerSDP(nil, a.cfg.AdvertiseAddr, a.cfg.MediaPort, req.VideoState)
	if err != nil {
		return nil, err
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(body)
	return invite, nil
}

// sendCANCEL aborts a pending outbound INVITE.
func (a *SIPAdapter) sendCANCEL(s *sipSession) {
	cancelReq := sip.NewRequest(sip.CANCEL, s.invite.Recipient)
	sip.CopyHeaders("Via", s.invite, cancelReq)
	sip.CopyHeaders("From", s.invite, cancelReq)
	sip.CopyHeaders("To", s.invite, cancelReq)
	sip.CopyHeaders("Call-ID", s.invite, cancelReq)
	if cseq := s.invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := a.waitRequest(ctx, cancelReq); err != nil {
		slog.Warn("[SIP] Failed to send CANCEL", "call_id", s.callID, "error", err)
	}
}

// sendBYE ends an answered outbound call.
func (a *SIPAdapter) sendBYE(ctx context.Context, s *sipSession) error {
	s.mu.Lock()
	resp := s.resp
	s.mu.Unlock()

	recipient := s.invite.Recipient
	if contact := resp.Contact(); contact != nil {
		recipient = contact.Address
	}
	bye := sip.NewRequest(sip.BYE, recipient)
	sip.CopyHeaders("From", s.invite, bye)
	sip.CopyHeaders("Call-ID", s.invite, bye)
	if to := resp.To(); to != nil {
		bye.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
	}
	var seq uint32 = 1
	if cseq := s.invite.CSeq(); cseq != nil {
		seq = cseq.SeqNo
	}
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: seq + 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	byeCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return a.waitRequest(byeCtx, bye)
}

func (a *SIPAdapter) waitRequest(ctx context.Context, req *sip.Request) error {
	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return err
	}
	defer tx.Terminate()
	select {
	case resp := <-tx.Responses():
		if resp != nil {
			slog.Debug("[SIP] Response received", "method", req.Method, "status", resp.StatusCode)
		}
	case <-tx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
