package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tripdesk/internal/i18n"
	"github.com/ashureev/tripdesk/internal/idgen"
	"github.com/ashureev/tripdesk/internal/transport"
)

// TurnPolicy decides how overlapping turns on one conversation interact.
type TurnPolicy string

const (
	// PolicyConcurrent lets overlapping turns race. Replies land in
	// completion order.
	PolicyConcurrent TurnPolicy = "concurrent"
	// PolicySerialized queues turns per conversation. Each turn resolves its
	// working id after the previous turn's reply has been applied.
	PolicySerialized TurnPolicy = "serialized"
)

// ParseTurnPolicy validates a policy name. Empty means concurrent.
func ParseTurnPolicy(s string) (TurnPolicy, error) {
	switch TurnPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyConcurrent:
		return PolicyConcurrent, nil
	case PolicySerialized:
		return PolicySerialized, nil
	default:
		return "", fmt.Errorf("unknown turn policy %q", s)
	}
}

// State is a deep copy of the store's state at one version.
type State struct {
	Conversations        []Conversation `json:"conversations"`
	ActiveConversationID string         `json:"active_conversation_id"`
	IsTyping             bool           `json:"is_typing"`
	Error                string         `json:"error"`
	Version              uint64         `json:"version"`
}

// Active returns the conversation the active pointer resolves to.
func (s State) Active() (Conversation, bool) {
	if s.ActiveConversationID == "" {
		return Conversation{}, false
	}
	for _, c := range s.Conversations {
		if c.ID == s.ActiveConversationID {
			return c, true
		}
	}
	return Conversation{}, false
}

// Turn reports the outcome of one SendMessage call.
type Turn struct {
	ConversationID string  `json:"conversation_id"`
	WorkingID      string  `json:"working_id"`
	User           Message `json:"user"`
	Reply          Message `json:"reply"`
	Failed         bool    `json:"failed"`
	// Dropped is set when the conversation was deleted before the reply arrived.
	Dropped bool `json:"dropped,omitempty"`
}

// Options configures a Store.
type Options struct {
	CustomerID string
	Language   string
	Localizer  *i18n.Localizer
	IDs        *idgen.Generator
	Clock      func() time.Time
	Logger     *slog.Logger
	Policy     TurnPolicy
}

// record is the store's private handle for a conversation. ref never changes,
// even when the conversation's id is rebound.
type record struct {
	ref  uint64
	conv Conversation
	turn chan struct{} // per-conversation turn slot, serialized policy only
}

// Store is the sole mutator of conversation state for one session.
type Store struct {
	transport  transport.Transport
	customerID string
	ids        *idgen.Generator
	now        func() time.Time
	logger     *slog.Logger
	policy     TurnPolicy

	mu       sync.Mutex
	lang     string
	loc      *i18n.Localizer
	records  []*record // most recently created first
	activeID string
	pending  int
	errText  string
	version  uint64
	nextRef  uint64
	subs     map[uint64]chan State
	nextSub  uint64
}

// New creates an empty store.
func New(t transport.Transport, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = &idgen.Generator{Now: opts.Clock}
	}
	if opts.Localizer == nil {
		opts.Localizer = i18n.New(opts.Language)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyConcurrent
	}
	// Versions start at the creation time in microseconds, so a store that
	// replaces an evicted one never repeats its versions.
	var seed uint64
	if us := opts.Clock().UnixMicro(); us > 0 {
		seed = uint64(us)
	}
	return &Store{
		transport:  t,
		customerID: opts.CustomerID,
		ids:        opts.IDs,
		now:        opts.Clock,
		logger:     opts.Logger.With("customer_id", opts.CustomerID),
		policy:     opts.Policy,
		lang:       opts.Localizer.Language(),
		loc:        opts.Localizer,
		version:    seed,
		subs:       make(map[uint64]chan State),
	}
}

// SetLanguage switches the language used for new turns and localized text.
func (s *Store) SetLanguage(lang string) {
	loc := i18n.New(lang)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lang = loc.Language()
	s.loc = loc
}

// Language returns the store's current language code.
func (s *Store) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// CreateConversation allocates an empty conversation, prepends it and makes
// it active.
func (s *Store) CreateConversation() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.createLocked()
	s.changedLocked()
	return s.viewLocked(rec)
}

func (s *Store) createLocked() *record {
	now := s.now()
	s.nextRef++
	rec := &record{
		ref: s.nextRef,
		conv: Conversation{
			ID:        s.ids.Conversation(),
			Title:     s.loc.Text(i18n.KeyDefaultTitle),
			Messages:  []Message{},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if s.policy == PolicySerialized {
		rec.turn = make(chan struct{}, 1)
	}
	s.records = append([]*record{rec}, s.records...)
	s.activeID = rec.conv.ID
	return rec
}

// SetActiveConversation repoints the active pointer and clears the error.
// An empty id clears the pointer. The id is not validated.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	s.errText = ""
	s.changedLocked()
}

// DeleteConversation removes a conversation. Deleting an unknown id is a no-op.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.records {
		if rec.conv.ID != id {
			continue
		}
		s.records = append(s.records[:i:i], s.records[i+1:]...)
		if s.activeID == id {
			s.activeID = ""
		}
		s.changedLocked()
		return
	}
}

// Active returns the conversation the active pointer resolves to.
func (s *Store) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byIDLocked(s.activeID)
	if rec == nil {
		return Conversation{}, false
	}
	return s.viewLocked(rec), true
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byIDLocked(id)
	if rec == nil {
		return Conversation{}, false
	}
	return s.viewLocked(rec), true
}

// Search returns the conversations whose title, preview or messages contain
// query, case-insensitively, in store order. A blank query matches everything.
func (s *Store) Search(query string) []Conversation {
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.records))
	for _, rec := range s.records {
		if q == "" || rec.conv.matches(q) {
			out = append(out, s.viewLocked(rec))
		}
	}
	return out
}

// ClearError clears the last error.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errText == "" {
		return
	}
	s.errText = ""
	s.changedLocked()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// SendMessage runs one turn. It returns false without touching state when
// content is blank. Transport failures are absorbed into state: the error
// banner is set and a system message is appended.
func (s *Store) SendMessage(ctx context.Context, content string) (Turn, bool) {
	text := strings.TrimSpace(content)
	if text == "" {
		return Turn{}, false
	}

	s.mu.Lock()
	rec := s.byIDLocked(s.activeID)
	if rec == nil {
		rec = s.createLocked()
	}
	user := Message{
		ID:        s.ids.Message(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: s.now(),
	}
	rec.conv = rec.conv.withMessage(user)
	s.pending++
	s.errText = ""
	workingID := rec.conv.ID
	lang := s.lang
	s.changedLocked()
	s.mu.Unlock()

	turn := Turn{WorkingID: workingID, User: user}

	if rec.turn != nil {
		select {
		case rec.turn <- struct{}{}:
			defer func() { <-rec.turn }()
		case <-ctx.Done():
			return s.finishFailure(rec, turn, &transport.Error{
				Kind: transport.KindNetworkUnreachable, Op: "send turn", Err: ctx.Err(),
			}), true
		}
		// Pick up an id rebound by the turn we waited for.
		s.mu.Lock()
		turn.WorkingID = rec.conv.ID
		s.mu.Unlock()
	}

	res, err := s.transport.SendTurn(ctx, transport.TurnRequest{
		Message:        text,
		CustomerID:     s.customerID,
		ConversationID: turn.WorkingID,
		Language:       lang,
	})
	if err != nil {
		return s.finishFailure(rec, turn, err), true
	}
	return s.finishSuccess(rec, turn, res), true
}

func (s *Store) finishSuccess(rec *record, turn Turn, res *transport.TurnResult) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.endTurnLocked()

	reply := Message{
		ID:               s.ids.Message(),
		Role:             RoleAssistant,
		Content:          res.ReplyText,
		Timestamp:        s.now(),
		AgentType:        res.AgentUsed,
		ProcessingTimeMs: res.ProcessingTimeMs,
		Intent:           res.Intent,
		Suggestions:      append([]string(nil), res.Suggestions...),
	}
	turn.Reply = reply

	if !s.liveLocked(rec) {
		s.logger.Warn("Dropping reply for deleted conversation",
			"working_id", turn.WorkingID, "conversation_id", res.ConversationID)
		turn.ConversationID = res.ConversationID
		turn.Dropped = true
		return turn
	}

	rec.conv = rec.conv.withMessage(reply)
	if res.ConversationID != "" && res.ConversationID != turn.WorkingID && res.ConversationID != rec.conv.ID {
		old := rec.conv.ID
		rec.conv.ID = res.ConversationID
		if s.activeID == old {
			s.activeID = res.ConversationID
		}
		s.logger.Info("Conversation id rebound", "working_id", old, "conversation_id", res.ConversationID)
	}
	turn.ConversationID = rec.conv.ID
	return turn
}

func (s *Store) finishFailure(rec *record, turn Turn, err error) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.endTurnLocked()

	text := s.failureTextLocked(err)
	turn.Failed = true
	turn.Reply = Message{
		ID:        s.ids.Message(),
		Role:      RoleSystem,
		Content:   text,
		Timestamp: s.now(),
	}
	turn.ConversationID = rec.conv.ID

	if !s.liveLocked(rec) {
		s.logger.Warn("Dropping failure for deleted conversation", "working_id", turn.WorkingID, "error", err)
		turn.Dropped = true
		return turn
	}

	s.logger.Warn("Turn failed", "conversation_id", rec.conv.ID, "error", err)
	s.errText = text
	rec.conv = rec.conv.withMessage(turn.Reply)
	return turn
}

func (s *Store) endTurnLocked() {
	s.pending--
	s.changedLocked()
}

func (s *Store) failureTextLocked(err error) string {
	te := transport.AsError(err)
	switch te.Kind {
	case transport.KindNetworkUnreachable:
		return s.loc.Text(i18n.KeyNetworkUnreachable)
	case transport.KindServerError:
		if te.Detail != "" {
			return s.loc.Sprintf(i18n.KeyServerError, te.Status, te.Detail)
		}
		return s.loc.Sprintf(i18n.KeyServerErrorNoDetail, te.Status)
	default:
		return s.loc.Text(i18n.KeyUnexpected)
	}
}

// LoadHistory fetches a backend-held transcript and installs it under id,
// replacing any conversation that already has that id. The result becomes
// the active conversation.
func (s *Store) LoadHistory(ctx context.Context, id string) (Conversation, error) {
	h, err := s.transport.FetchHistory(ctx, id)
	if err != nil {
		return Conversation{}, fmt.Errorf("load history %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := Conversation{
		ID:        h.ConversationID,
		Title:     s.loc.Text(i18n.KeyDefaultTitle),
		Messages:  []Message{},
		CreatedAt: h.CreatedAt,
	}
	if conv.ID == "" {
		conv.ID = id
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt
	for _, hm := range h.Messages {
		ts := hm.Timestamp
		if ts.IsZero() {
			ts = now
		}
		conv = conv.withMessage(Message{
			ID:        s.ids.Message(),
			Role:      ParseRole(hm.Role),
			Content:   hm.Content,
			Timestamp: ts,
			AgentType: hm.AgentType,
		})
	}
	if !h.UpdatedAt.IsZero() {
		conv.UpdatedAt = h.UpdatedAt
	}

	rec := s.byIDLocked(conv.ID)
	if rec == nil {
		rec = s.byIDLocked(id)
	}
	if rec == nil {
		s.nextRef++
		rec = &record{ref: s.nextRef}
		if s.policy == PolicySerialized {
			rec.turn = make(chan struct{}, 1)
		}
		s.records = append([]*record{rec}, s.records...)
	}
	rec.conv = conv
	s.activeID = conv.ID
	s.changedLocked()

	s.logger.Info("Conversation history loaded", "conversation_id", conv.ID, "messages", len(conv.Messages))
	return s.viewLocked(rec), nil
}

// Subscribe delivers the current state immediately and then every change.
// A slow subscriber only ever receives the newest state. The channel is
// closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	ch <- s.stateLocked()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) changedLocked() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	st := s.stateLocked()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale undelivered state.
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

func (s *Store) stateLocked() State {
	st := State{
		Conversations:        make([]Conversation, 0, len(s.records)),
		ActiveConversationID: s.activeID,
		IsTyping:             s.pending > 0,
		Error:                s.errText,
		Version:              s.version,
	}
	for _, rec := range s.records {
		st.Conversations = append(st.Conversations, s.viewLocked(rec))
	}
	return st
}

func (s *Store) viewLocked(rec *record) Conversation {
	c := rec.conv.clone()
	c.IsActive = c.ID != "" && c.ID == s.activeID
	return c
}

func (s *Store) byIDLocked(id string) *record {
	if id == "" {
		return nil
	}
	for _, rec := range s.records {
		if rec.conv.ID == id {
			return rec
		}
	}
	return nil
}

func (s *Store) liveLocked(rec *record) bool {
	for _, r := range s.records {
		if r.ref == rec.ref {
			return true
		}
	}
	return false
}
