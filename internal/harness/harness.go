package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hubstore/internal/config"
	"github.com/roach88/hubstore/internal/node"
	"github.com/roach88/hubstore/internal/protocol"
	"github.com/roach88/hubstore/internal/testutil"
)

// OutcomeOK is the outcome of a step that returned no error.
const OutcomeOK = "ok"

// Harness runs one scenario against a fresh in-memory node.
type Harness struct {
	node     *node.Node
	messages map[string]*protocol.Message
	labels   map[string]string // message hash -> label
	logger   *slog.Logger
}

// Run executes a scenario and returns its result. Each run uses its own
// in-memory database and a deterministic clock, so two runs of the same
// scenario produce identical traces.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}
	cfg.DBPath = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.TrieDBPath = ""

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock(testutil.DefaultClockStart, time.Millisecond)
	n, err := node.Open(ctx, cfg, node.WithClock(clock), node.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open node: %w", err)
	}
	defer n.Close(ctx)

	h := &Harness{
		node:     n,
		messages: make(map[string]*protocol.Message),
		labels:   make(map[string]string),
		logger:   logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func scenarioConfig(s *Scenario) (config.Config, error) {
	if len(s.Config) == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("encode scenario config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario config: %w", err)
	}
	return cfg, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	trace := TraceEvent{Step: i, Op: step.Op}
	var (
		evs    []*protocol.HubEvent
		opErr  error
		counts = step.Op == OpPrune || step.Op == OpRevokeSigner
	)

	switch step.Op {
	case OpMerge:
		m, err := h.buildMessage(step.Message)
		if err != nil {
			return err
		}
		label := step.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		h.messages[label] = m
		if _, seen := h.labels[string(m.Hash)]; !seen {
			h.labels[string(m.Hash)] = label
		}
		trace.Message = label
		trace.Type = m.Type().String()
		trace.Fid = m.Fid()

		ev, err := h.node.Merge(ctx, m)
		opErr = err
		if ev != nil {
			evs = append(evs, ev)
		}

	case OpRevoke:
		m := h.messages[step.Ref]
		trace.Message = step.Ref
		trace.Type = m.Type().String()
		trace.Fid = m.Fid()
		ev, err := h.node.Revoke(ctx, m)
		opErr = err
		if ev != nil {
			evs = append(evs, ev)
		}

	case OpPrune:
		trace.Fid = step.Fid
		if step.Class == "" {
			evs, opErr = h.node.PruneAll(ctx, step.Fid, step.Units)
		} else {
			evs, opErr = h.node.Prune(ctx, step.Fid, step.Class, step.Units)
		}

	case OpRevokeSigner:
		trace.Fid = step.Fid
		signer := testutil.NewSigner(step.Signer).PublicKey()
		evs, opErr = h.node.RevokeMessagesBySigner(ctx, step.Fid, signer)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	trace.Outcome = outcomeOf(opErr)
	for _, ev := range evs {
		trace.Events = append(trace.Events, ev.Type.String())
		trace.Removed = append(trace.Removed, h.removedLabels(ev)...)
	}
	result.AddTrace(trace)

	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if trace.Outcome != want {
		msg := fmt.Sprintf("steps[%d] %s: expected outcome %s, got %s", i, step.Op, want, trace.Outcome)
		if opErr != nil {
			msg += fmt.Sprintf(" (%v)", opErr)
		}
		result.AddError(msg)
	}
	if step.Count != nil {
		if !counts {
			return fmt.Errorf("count is only valid for prune and revoke_signer")
		}
		if len(evs) != *step.Count {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %d events, got %d", i, step.Op, *step.Count, len(evs)))
		}
	}

	h.logger.Info("scenario step executed", "step", i, "op", step.Op, "outcome", trace.Outcome)
	return nil
}

// outcomeOf maps an error to its code without the bad_request prefix.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	code := protocol.CodeOf(err)
	if code == "" {
		return "error"
	}
	return strings.TrimPrefix(string(code), "bad_request.")
}

// removedLabels names the messages an event took out of the store.
func (h *Harness) removedLabels(ev *protocol.HubEvent) []string {
	var removed []*protocol.Message
	switch {
	case ev.MergeMessageBody != nil:
		removed = ev.MergeMessageBody.DeletedMessages
	case ev.PruneMessageBody != nil:
		removed = []*protocol.Message{ev.PruneMessageBody.Message}
	case ev.RevokeMessageBody != nil:
		removed = []*protocol.Message{ev.RevokeMessageBody.Message}
	case ev.MergeUsernameProofBody != nil:
		if m := ev.MergeUsernameProofBody.DeletedUsernameProofMessage; m != nil {
			removed = []*protocol.Message{m}
		}
	}
	out := make([]string, 0, len(removed))
	for _, m := range removed {
		if m == nil {
			continue
		}
		label, ok := h.labels[string(m.Hash)]
		if !ok {
			label = "?"
		}
		out = append(out, label)
	}
	return out
}

func (h *Harness) buildMessage(spec *MessageSpec) (*protocol.Message, error) {
	t, err := protocol.ParseMessageType(spec.Type)
	if err != nil {
		return nil, err
	}

	var opts []testutil.Option
	if spec.Signer != 0 {
		opts = append(opts, testutil.WithSigner(testutil.NewSigner(spec.Signer)))
	}
	if spec.Hash != 0 {
		opts = append(opts, testutil.WithHash(testutil.Hash(spec.Hash)))
	}

	data := &protocol.MessageData{Type: t, Fid: spec.Fid, Timestamp: spec.Timestamp}
	switch t {
	case protocol.MessageTypeCastAdd:
		body := &protocol.CastAddBody{Text: spec.Text, Mentions: spec.Mentions, ParentURL: spec.ParentURL}
		if spec.Parent != "" {
			if body.ParentCastID, err = h.castID(spec.Parent); err != nil {
				return nil, err
			}
		}
		data.CastAddBody = body

	case protocol.MessageTypeCastRemove:
		target, err := h.castID(spec.Target)
		if err != nil {
			return nil, err
		}
		data.CastRemoveBody = &protocol.CastRemoveBody{TargetHash: target.Hash}

	case protocol.MessageTypeReactionAdd, protocol.MessageTypeReactionRemove:
		rt, err := parseReactionType(spec.ReactionType)
		if err != nil {
			return nil, err
		}
		body := &protocol.ReactionBody{Type: rt, TargetURL: spec.TargetURL}
		if spec.Target != "" {
			if body.TargetCastID, err = h.castID(spec.Target); err != nil {
				return nil, err
			}
		}
		data.ReactionBody = body

	case protocol.MessageTypeLinkAdd, protocol.MessageTypeLinkRemove:
		data.LinkBody = &protocol.LinkBody{Type: spec.LinkType, TargetFid: spec.TargetFid}

	case protocol.MessageTypeVerificationAddEthAddress, protocol.MessageTypeVerificationRemove:
		address, err := hex.DecodeString(strings.TrimPrefix(spec.Address, "0x"))
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", spec.Address, err)
		}
		if t == protocol.MessageTypeVerificationRemove {
			return testutil.VerificationRemove(spec.Fid, spec.Timestamp, address, opts...), nil
		}
		return testutil.VerificationAdd(spec.Fid, spec.Timestamp, address, opts...), nil

	case protocol.MessageTypeUserDataAdd:
		dt, err := parseUserDataType(spec.UserDataType)
		if err != nil {
			return nil, err
		}
		data.UserDataBody = &protocol.UserDataBody{Type: dt, Value: spec.Value}

	case protocol.MessageTypeUsernameProof:
		return testutil.UsernameProof(spec.Fid, spec.Timestamp, spec.Name, opts...), nil
	}
	return testutil.Message(data, opts...), nil
}

func (h *Harness) castID(label string) (*protocol.CastID, error) {
	m, ok := h.messages[label]
	if !ok {
		return nil, fmt.Errorf("unknown message %q", label)
	}
	return &protocol.CastID{Fid: m.Fid(), Hash: m.Hash}, nil
}

func parseReactionType(name string) (protocol.ReactionType, error) {
	switch name {
	case "like":
		return protocol.ReactionTypeLike, nil
	case "recast":
		return protocol.ReactionTypeRecast, nil
	case "":
		return protocol.ReactionTypeNone, nil
	}
	return 0, fmt.Errorf("unknown reaction type %q", name)
}

func parseUserDataType(name string) (protocol.UserDataType, error) {
	switch name {
	case "pfp":
		return protocol.UserDataTypePfp, nil
	case "display":
		return protocol.UserDataTypeDisplay, nil
	case "bio":
		return protocol.UserDataTypeBio, nil
	case "url":
		return protocol.UserDataTypeURL, nil
	case "username":
		return protocol.UserDataTypeUsername, nil
	case "":
		return protocol.UserDataTypeNone, nil
	}
	return 0, fmt.Errorf("unknown user data type %q", name)
}
