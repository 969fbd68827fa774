// Package call implements the per-call orchestrator: it owns the telephony
// media stream, wires the STT, LLM, and TTS clients together, drives the turn
// state machine with barge-in, and persists session state and the final call
// log.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/observe"
	"github.com/driveline-ai/driveline/internal/prompt"
	"github.com/driveline-ai/driveline/internal/store/postgres"
	"github.com/driveline-ai/driveline/internal/telephony"
	"github.com/driveline-ai/driveline/internal/tools"
	"github.com/driveline-ai/driveline/pkg/audio"
	"github.com/driveline-ai/driveline/pkg/provider/llm"
	"github.com/driveline-ai/driveline/pkg/provider/stt"
	"github.com/driveline-ai/driveline/pkg/provider/tts"
	"github.com/driveline-ai/driveline/pkg/types"
)

// errCallEnded signals orderly termination: telephony stop or socket close.
var errCallEnded = errors.New("call: ended")

// errorApology is spoken when the LLM stream fails mid-turn.
const errorApology = "I'm sorry, I'm having a little trouble right now. Could you say that again?"

// MediaStream is the telephony surface the orchestrator drives. Implemented
// by [telephony.Stream].
type MediaStream interface {
	ReadFrame(ctx context.Context) (*telephony.Frame, error)
	Begin(streamSID string)
	SendMedia(ctx context.Context, audio []byte) error
	SendClear(ctx context.Context) error
	SendMark(ctx context.Context, name string) error
	Close() error
}

// SessionStore is the session-record slice of the distributed store.
type SessionStore interface {
	SetSession(ctx context.Context, sess *domain.Session) error
	UpdateSession(ctx context.Context, sid string, patch map[string]any) error
}

// CustomerLookup resolves callers at session initialization.
type CustomerLookup interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Customer, error)
}

// AppointmentLookup loads prompt context: the outbound target and the
// caller's upcoming visits.
type AppointmentLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Appointment, error)
	ListUpcoming(ctx context.Context, customerID int64, from time.Time) ([]domain.Appointment, error)
}

// CallLogStore persists the durable record of the finished call.
type CallLogStore interface {
	Insert(ctx context.Context, l *domain.CallLog) error
}

// Deps wires one call's collaborators. The clients are owned by the
// orchestrator from Run onwards and closed during teardown.
type Deps struct {
	Stream MediaStream
	STT    stt.Client
	TTS    tts.Client
	LLM    llm.Provider

	Sessions     SessionStore
	Customers    CustomerLookup
	Appointments AppointmentLookup
	CallLogs     CallLogStore

	// ToolFactory builds the per-call tool registry once the caller is known.
	ToolFactory func(call tools.CallInfo) *tools.Registry

	// Prompt carries the persona and business-hours context; the orchestrator
	// fills in the customer fields per call.
	Prompt prompt.Params

	Metrics *observe.Metrics

	Temperature float64
	MaxTokens   int

	// BargeInMinChars is the minimum trimmed interim length that counts as
	// an interruption. Defaults to 1.
	BargeInMinChars int

	// Now is the clock, swapped in tests. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator coordinates one call end to end. Create with New, run with
// Run; the zero value is not usable.
type Orchestrator struct {
	deps Deps

	callSID     string
	streamSID   string
	callerPhone string
	callType    domain.CallType
	direction   domain.CallDirection
	customerID  int64

	chat *llm.Chat

	// playback guards the speaking flag. The guarded region never performs
	// I/O beyond a single non-blocking channel operation.
	playback struct {
		sync.Mutex
		speaking bool
	}

	// turn tracks the in-flight assistant turn so barge-in can cancel it.
	turn struct {
		sync.Mutex
		cancel context.CancelFunc
		done   chan struct{}
	}

	// flushed is set once the current turn's text is fully handed to TTS.
	flushMu sync.Mutex
	flushed bool

	state domain.CallState

	transcriptMu sync.Mutex
	transcript   []string

	startedAt time.Time
}

// New creates an orchestrator for one call.
func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.BargeInMinChars <= 0 {
		deps.BargeInMinChars = 1
	}
	return &Orchestrator{deps: deps, state: domain.StateGreeting}
}

// Run drives the call until the telephony stream ends or a fatal error
// occurs. It always tears down in order and persists the final session state
// before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.deps.Stream.Close()

	start, err := o.awaitStart(ctx)
	if err != nil {
		return err
	}

	o.callSID = start.CallSID
	o.streamSID = start.StreamSID
	o.deps.Stream.Begin(start.StreamSID)
	o.startedAt = o.deps.Now().UTC()

	o.deps.Metrics.ActiveCalls.Add(ctx, 1)
	defer o.deps.Metrics.ActiveCalls.Add(ctx, -1)

	customer, target := o.classify(ctx, start)
	log := slog.With("call_sid", o.callSID, "call_type", o.callType)
	log.Info("session starting", "caller", maskPhone(o.callerPhone))

	if err := o.initSession(ctx, customer); err != nil {
		// The session record is advisory state; the call can proceed.
		log.Warn("session persist failed", "error", err)
	}
	o.buildChat(ctx, customer, target)

	if err := o.connectClients(ctx); err != nil {
		log.Error("media clients failed to connect", "error", err)
		o.deps.Stream.SendClear(ctx)
		o.teardown(context.WithoutCancel(ctx), "provider_unavailable")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.ingress(gctx) })
	g.Go(func() error { return o.turns(gctx, customer) })
	err = g.Wait()

	o.teardown(context.WithoutCancel(ctx), "completed")
	log.Info("session ended")

	if errors.Is(err, errCallEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// awaitStart reads frames until the start event arrives.
func (o *Orchestrator) awaitStart(ctx context.Context) (*telephony.StartFrame, error) {
	for {
		f, err := o.deps.Stream.ReadFrame(ctx)
		if err != nil {
			return nil, fmt.Errorf("call: waiting for start: %w", err)
		}
		switch f.Event {
		case telephony.EventStart:
			if f.Start == nil {
				return nil, errors.New("call: start frame without payload")
			}
			return f.Start, nil
		case telephony.EventStop:
			return nil, errCallEnded
		}
	}
}

// classify resolves the caller and determines the call type. Lookup failures
// degrade to the new-caller path rather than failing the call.
func (o *Orchestrator) classify(ctx context.Context, start *telephony.StartFrame) (*domain.Customer, *domain.Appointment) {
	raw := start.CustomParameters["caller_phone"]
	if raw == "" {
		raw = start.From
	}
	if normalized, err := domain.NormalizePhone(raw); err == nil {
		o.callerPhone = normalized
	} else {
		o.callerPhone = raw
	}

	o.direction = domain.CallInbound

	var customer *domain.Customer
	c, err := o.deps.Customers.GetByPhone(ctx, o.callerPhone)
	switch {
	case err == nil:
		customer = c
		o.customerID = c.ID
	case errors.Is(err, postgres.ErrNotFound):
	default:
		slog.Warn("caller lookup failed", "error", err)
	}

	// An appointment_id custom parameter marks a pre-seeded outbound
	// reminder call.
	if raw := start.CustomParameters["appointment_id"]; raw != "" {
		if id, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
			if appt, getErr := o.deps.Appointments.GetByID(ctx, id); getErr == nil {
				o.callType = domain.CallOutboundRemind
				o.direction = domain.CallOutbound
				return customer, appt
			} else {
				slog.Warn("outbound target lookup failed", "appointment_id", id, "error", getErr)
			}
		}
	}

	if customer != nil {
		o.callType = domain.CallInboundExisting
	} else {
		o.callType = domain.CallInboundNew
	}
	return customer, nil
}

func (o *Orchestrator) initSession(ctx context.Context, customer *domain.Customer) error {
	sess := &domain.Session{
		CallSID:     o.callSID,
		StreamSID:   o.streamSID,
		CallerPhone: o.callerPhone,
		State:       domain.StateGreeting,
		CreatedAt:   o.startedAt,
		LastUpdated: o.startedAt,
	}
	if customer != nil {
		sess.CustomerID = customer.ID
	}
	return o.deps.Sessions.SetSession(ctx, sess)
}

func (o *Orchestrator) buildChat(ctx context.Context, customer *domain.Customer, target *domain.Appointment) {
	params := o.deps.Prompt
	params.Customer = customer
	params.Target = target
	params.Now = o.startedAt

	if customer != nil {
		upcoming, err := o.deps.Appointments.ListUpcoming(ctx, customer.ID, o.startedAt)
		if err != nil {
			slog.Warn("upcoming appointments lookup failed", "error", err)
		} else {
			params.Upcoming = upcoming
		}
	}

	registry := o.deps.ToolFactory(tools.CallInfo{
		CallerPhone: o.callerPhone,
		CallSID:     o.callSID,
	})

	conv := llm.NewConversation()
	conv.SetSystemPrompt(prompt.System(o.callType, params))
	o.chat = llm.NewChat(o.deps.LLM, registry, conv, o.deps.Temperature, o.deps.MaxTokens)
}

// connectClients brings up STT and TTS in parallel. Dial retries live inside
// the clients; adding another retry layer here would multiply the attempts.
func (o *Orchestrator) connectClients(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.deps.STT.Connect(gctx) })
	g.Go(func() error { return o.deps.TTS.Connect(gctx) })
	return g.Wait()
}

// ingress pumps telephony frames into the STT client. Empty media payloads
// are dropped before they reach the provider.
func (o *Orchestrator) ingress(ctx context.Context) error {
	for {
		f, err := o.deps.Stream.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, telephony.ErrStreamClosed) {
				return errCallEnded
			}
			return err
		}

		switch f.Event {
		case telephony.EventMedia:
			if f.Media == nil {
				continue
			}
			payload, err := f.Media.Audio()
			if err != nil {
				slog.Warn("bad media payload", "error", err)
				continue
			}
			if len(payload) == 0 {
				continue
			}
			o.deps.Metrics.RecordMediaFrame(ctx, "in")
			o.deps.Metrics.MediaInLevel.Record(ctx, audio.RMS(payload))
			if err := o.deps.STT.SendAudio(payload); err != nil {
				slog.Warn("stt send failed", "error", err)
			}
		case telephony.EventMark:
			if f.Mark != nil {
				slog.Debug("playback marker", "name", f.Mark.Name)
			}
		case telephony.EventStop:
			return errCallEnded
		}
	}
}

// teardown closes the pipeline in order (STT, TTS, then stores), persists the
// final session state, and writes the call log. Called exactly once per call.
func (o *Orchestrator) teardown(ctx context.Context, outcome string) {
	if err := o.deps.STT.Close(); err != nil {
		slog.Warn("stt close failed", "error", err)
	}
	if err := o.deps.TTS.Close(); err != nil {
		slog.Warn("tts close failed", "error", err)
	}

	ended := o.deps.Now().UTC()
	usage := o.usage()
	patch := map[string]any{
		"current_state":     string(domain.StateClosing),
		"ended_at":          ended.Format(time.RFC3339Nano),
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
	}
	if err := o.deps.Sessions.UpdateSession(ctx, o.callSID, patch); err != nil {
		slog.Warn("final session persist failed", "error", err)
	}

	log := &domain.CallLog{
		CallSID:          o.callSID,
		CustomerID:       o.customerID,
		Direction:        o.direction,
		CallerPhone:      o.callerPhone,
		Transcript:       o.transcriptText(),
		StartedAt:        o.startedAt,
		EndedAt:          ended,
		Outcome:          outcome,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	if err := o.deps.CallLogs.Insert(ctx, log); err != nil {
		slog.Warn("call log persist failed", "error", err)
	}
}

func (o *Orchestrator) usage() types.Usage {
	if o.chat == nil {
		return types.Usage{}
	}
	return o.chat.Conversation().Usage()
}

func (o *Orchestrator) appendTranscript(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.transcriptMu.Lock()
	defer o.transcriptMu.Unlock()
	o.transcript = append(o.transcript, speaker+": "+text)
}

func (o *Orchestrator) transcriptText() string {
	o.transcriptMu.Lock()
	defer o.transcriptMu.Unlock()
	return strings.Join(o.transcript, "\n")
}

// setState records an advisory state transition in the session.
func (o *Orchestrator) setState(ctx context.Context, s domain.CallState) {
	if o.state == s {
		return
	}
	o.state = s
	patch := map[string]any{"current_state": string(s)}
	if err := o.deps.Sessions.UpdateSession(ctx, o.callSID, patch); err != nil {
		slog.Debug("state persist failed", "state", s, "error", err)
	}
}

// maskPhone hides all but the last four digits for logs.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
