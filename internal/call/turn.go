package call

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driveline-ai/driveline/internal/domain"
	"github.com/driveline-ai/driveline/internal/prompt"
	"github.com/driveline-ai/driveline/pkg/provider/llm"
	"github.com/driveline-ai/driveline/pkg/types"
)

// egressTimeout is the blocking-receive timeout of the egress subtask. Two
// consecutive timeouts after flush are treated as end of speech.
const egressTimeout = 500 * time.Millisecond

// turns is the turn task: it speaks the greeting, then consumes transcript
// events and drives one assistant turn per finalized utterance.
func (o *Orchestrator) turns(ctx context.Context, customer *domain.Customer) error {
	params := o.deps.Prompt
	params.Customer = customer
	greeting := prompt.Greeting(o.callType, params)

	o.speak(ctx, greeting)
	o.chat.Conversation().AddAssistant(greeting, nil)
	o.appendTranscript("agent", greeting)
	o.setState(ctx, domain.StateIdleListening)

	// Interim accumulation: every final fragment is buffered; speech_final
	// (or utterance_end with a non-empty buffer) seals the utterance.
	var finals []string

	for {
		select {
		case <-ctx.Done():
			o.cancelTurn(true)
			return ctx.Err()
		case tr, ok := <-o.deps.STT.Transcripts():
			if !ok {
				o.cancelTurn(true)
				return errCallEnded
			}
			switch tr.Type {
			case types.TranscriptInterim:
				// An interim with enough real text preempts playback.
				if len(strings.TrimSpace(tr.Text)) >= o.deps.BargeInMinChars {
					o.bargeIn(ctx)
				}
			case types.TranscriptFinal:
				if text := strings.TrimSpace(tr.Text); text != "" {
					finals = append(finals, text)
				}
				if tr.SpeechFinal && len(finals) > 0 {
					utterance := strings.Join(finals, " ")
					finals = nil
					o.startTurn(ctx, utterance)
				}
			case types.TranscriptUtteranceEnd:
				// Backup path for utterances whose last fragment never got
				// speech_final.
				if len(finals) > 0 {
					utterance := strings.Join(finals, " ")
					finals = nil
					o.startTurn(ctx, utterance)
				}
			}
		}
	}
}

// startTurn begins a new assistant turn, first waiting out any turn that is
// still unwinding after a barge-in.
func (o *Orchestrator) startTurn(ctx context.Context, utterance string) {
	o.cancelTurn(true)

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.turn.Lock()
	o.turn.cancel = cancel
	o.turn.done = done
	o.turn.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		o.runTurn(turnCtx, utterance)
	}()
}

// cancelTurn aborts the in-flight turn, if any. With wait, it blocks until
// the turn goroutine has fully unwound.
func (o *Orchestrator) cancelTurn(wait bool) {
	o.turn.Lock()
	cancel, done := o.turn.cancel, o.turn.done
	o.turn.Unlock()

	if cancel != nil {
		cancel()
	}
	if wait && done != nil {
		<-done
	}
}

// bargeIn preempts assistant playback: drop buffered audio at the provider,
// cancel pending synthesis, clear the speaking flag, then abort the
// generation. The ordering is a contract; the next user turn must not start
// until the aborted turn can no longer emit audio.
func (o *Orchestrator) bargeIn(ctx context.Context) {
	if !o.speaking() {
		return
	}
	o.deps.Metrics.RecordBargeIn(ctx)
	slog.Debug("barge-in", "call_sid", o.callSID)

	if err := o.deps.Stream.SendClear(ctx); err != nil {
		slog.Warn("telephony clear failed", "error", err)
	}
	if err := o.deps.TTS.Clear(); err != nil {
		slog.Warn("tts clear failed", "error", err)
	}
	o.setSpeaking(false)
	o.cancelTurn(false)
}

// runTurn drives one assistant turn: stream the generation, forward complete
// sentences to TTS as they form, then wait for playback to finish.
func (o *Orchestrator) runTurn(ctx context.Context, utterance string) {
	turnStart := o.deps.Now()
	o.appendTranscript("caller", utterance)
	o.setState(ctx, domain.StateIntentDetection)
	o.setFlushed(false)

	events := o.chat.Generate(ctx, utterance)
	egressDone := o.startEgress(ctx)

	var pending, spoken strings.Builder
	failed := false
	for ev := range events {
		switch ev.Type {
		case llm.EventContentDelta:
			pending.WriteString(ev.Text)
			spoken.WriteString(ev.Text)
			o.sendReadySentences(&pending)
		case llm.EventToolCall:
			o.setState(ctx, domain.StateExecution)
		case llm.EventToolResult:
			status := "ok"
			if strings.Contains(ev.Text, `"success":false`) {
				status = "error"
			}
			o.deps.Metrics.RecordToolCall(ctx, ev.ToolName, status)
		case llm.EventError:
			// Drop anything buffered from the failed round. Deltas that
			// follow the error, such as the depth-cap apology, still flow.
			failed = true
			pending.Reset()
			spoken.Reset()
		}
	}

	if ctx.Err() != nil {
		// Barge-in or shutdown; the audio path has already been cleared.
		<-egressDone
		return
	}

	if failed {
		o.deps.Metrics.RecordProviderError(ctx, "llm", "stream")
		if strings.TrimSpace(spoken.String()) == "" {
			pending.WriteString(errorApology)
			spoken.WriteString(errorApology)
		}
	}
	if rest := strings.TrimSpace(pending.String()); rest != "" {
		o.sendText(rest)
	}
	if err := o.deps.TTS.Flush(); err != nil {
		slog.Warn("tts flush failed", "error", err)
	}
	o.setFlushed(true)
	<-egressDone
	o.sendTurnMark(ctx)

	o.appendTranscript("agent", spoken.String())
	o.persistTurn(ctx)
	o.setState(ctx, domain.StateIdleListening)
	o.deps.Metrics.TurnDuration.Record(ctx, o.deps.Now().Sub(turnStart).Seconds())
}

// speak synthesizes one canned utterance and waits for playback, outside any
// LLM turn. Used for the greeting.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	o.setFlushed(false)
	egressDone := o.startEgress(ctx)
	o.sendText(text)
	if err := o.deps.TTS.Flush(); err != nil {
		slog.Warn("tts flush failed", "error", err)
	}
	o.setFlushed(true)
	<-egressDone
	o.sendTurnMark(ctx)
}

// sendReadySentences peels complete sentences off the pending buffer and
// hands them to TTS, keeping the unfinished tail buffered. Streaming at
// sentence granularity lets synthesis start well before the generation ends.
func (o *Orchestrator) sendReadySentences(pending *strings.Builder) {
	s := pending.String()
	for {
		idx := sentenceBoundary(s)
		if idx < 0 {
			break
		}
		o.sendText(strings.TrimSpace(s[:idx+1]))
		s = strings.TrimLeft(s[idx+1:], " \t\n\r")
	}
	pending.Reset()
	pending.WriteString(s)
}

// sentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?', or ':' followed by whitespace, or a bare newline), -1 when
// the buffered text holds no complete sentence yet.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return i
		case '.', '!', '?', ':':
			if i+1 >= len(s) {
				// Might be mid-number or mid-abbreviation; wait for the
				// next delta to decide.
				continue
			}
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

func (o *Orchestrator) sendText(text string) {
	if text == "" {
		return
	}
	if err := o.deps.TTS.SendText(text); err != nil {
		slog.Warn("tts send failed", "error", err)
	}
}

// startEgress spawns the per-turn egress subtask pumping TTS audio to the
// telephony stream. The speaking flag is set for the subtask's lifetime.
func (o *Orchestrator) startEgress(ctx context.Context) <-chan struct{} {
	o.setSpeaking(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer o.setSpeaking(false)
		o.egress(ctx)
	}()
	return done
}

// egress forwards audio chunks in order until the stream is drained, the
// speaking flag is cleared by barge-in, or the timeout elapses twice
// consecutively after flush.
func (o *Orchestrator) egress(ctx context.Context) {
	timer := time.NewTimer(egressTimeout)
	defer timer.Stop()

	idleAfterFlush := 0
	for {
		if !o.speaking() {
			return
		}

		resetTimer(timer, egressTimeout)
		select {
		case <-ctx.Done():
			return
		case <-o.deps.TTS.Drained():
			o.drainRemaining(ctx)
			return
		case chunk, ok := <-o.deps.TTS.Audio():
			if !ok {
				return
			}
			// Re-check after the blocking receive; barge-in may have
			// cleared playback while we waited.
			if !o.speaking() {
				return
			}
			if len(chunk) > 0 {
				o.sendMedia(ctx, chunk)
			}
			idleAfterFlush = 0
		case <-timer.C:
			if o.turnFlushed() {
				idleAfterFlush++
				if idleAfterFlush >= 2 {
					return
				}
			}
		}
	}
}

// drainRemaining forwards whatever audio is still queued after the drained
// signal, without blocking.
func (o *Orchestrator) drainRemaining(ctx context.Context) {
	for {
		if !o.speaking() {
			return
		}
		select {
		case chunk, ok := <-o.deps.TTS.Audio():
			if !ok {
				return
			}
			if len(chunk) > 0 {
				o.sendMedia(ctx, chunk)
			}
		default:
			return
		}
	}
}

// sendTurnMark drops a named marker into the outbound stream. The provider
// echoes it back once everything queued before it has played, which shows up
// in the debug logs as a playback-complete signal.
func (o *Orchestrator) sendTurnMark(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := o.deps.Stream.SendMark(ctx, "turn-"+uuid.NewString()); err != nil {
		slog.Debug("mark send failed", "error", err)
	}
}

func (o *Orchestrator) sendMedia(ctx context.Context, chunk []byte) {
	if err := o.deps.Stream.SendMedia(ctx, chunk); err != nil {
		slog.Warn("media send failed", "error", err)
		return
	}
	o.deps.Metrics.RecordMediaFrame(ctx, "out")
}

// persistTurn snapshots the conversation and token usage into the session.
func (o *Orchestrator) persistTurn(ctx context.Context) {
	usage := o.usage()
	patch := map[string]any{
		"conversation_history": sessionTurns(o.chat.Conversation().History()),
		"prompt_tokens":        usage.PromptTokens,
		"completion_tokens":    usage.CompletionTokens,
	}
	if err := o.deps.Sessions.UpdateSession(ctx, o.callSID, patch); err != nil {
		slog.Warn("turn persist failed", "error", err)
	}
}

// sessionTurns converts chat history to the persisted session form, dropping
// the system prompt.
func sessionTurns(msgs []types.Message) []domain.Turn {
	turns := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		t := domain.Turn{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			t.ToolCalls = append(t.ToolCalls, domain.TurnCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		turns = append(turns, t)
	}
	return turns
}

func (o *Orchestrator) setSpeaking(v bool) {
	o.playback.Lock()
	o.playback.speaking = v
	o.playback.Unlock()
}

func (o *Orchestrator) speaking() bool {
	o.playback.Lock()
	defer o.playback.Unlock()
	return o.playback.speaking
}

func (o *Orchestrator) setFlushed(v bool) {
	o.flushMu.Lock()
	o.flushed = v
	o.flushMu.Unlock()
}

func (o *Orchestrator) turnFlushed() bool {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()
	return o.flushed
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
