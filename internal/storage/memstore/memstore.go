// Package memstore is an in-memory storage.Repository used by tests and by
// the CLI's dry-run paths. A single mutex makes every operation atomic, which
// gives it the same upsert and compare-and-set semantics as the SQL backends.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/riya/internal/storage"
	"github.com/scrypster/riya/pkg/types"
)

type nodeKey struct{ userID, name, typ string }

type edgeKey struct{ source, target, rel string }

type vector struct {
	userID string
	vec    []float32
}

// Store implements storage.Repository in memory.
type Store struct {
	mu sync.Mutex

	users     map[string]*types.User
	sessions  map[string]*types.Session
	messages  map[string][]*types.Message // by session
	msgIDs    map[string]struct{}
	memories  map[string]*types.Memory
	nodes     map[string]*types.GraphNode
	nodeIndex map[nodeKey]string
	edges     map[string]*types.GraphEdge
	edgeIndex map[edgeKey]string
	samples   []*types.MetricSample
	triggers  map[string]*types.EngagementTrigger
	depths    map[string]*types.RelationshipDepth
	vectors   map[string]vector

	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[string]*types.User),
		sessions:  make(map[string]*types.Session),
		messages:  make(map[string][]*types.Message),
		msgIDs:    make(map[string]struct{}),
		memories:  make(map[string]*types.Memory),
		nodes:     make(map[string]*types.GraphNode),
		nodeIndex: make(map[nodeKey]string),
		edges:     make(map[string]*types.GraphEdge),
		edgeIndex: make(map[edgeKey]string),
		triggers:  make(map[string]*types.EngagementTrigger),
		depths:    make(map[string]*types.RelationshipDepth),
		vectors:   make(map[string]vector),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock makes the store stamp created/updated times from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close implements storage.Repository.
func (s *Store) Close() error { return nil }

// --- users ---

func (s *Store) EnsureUser(ctx context.Context, user *types.User) error {
	if user == nil || user.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return nil
	}
	u := *user
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = &u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil || session.UserID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, ok := s.sessions[session.ID]; ok {
		return &storage.ConflictError{Op: "memstore: create session", Err: storage.ErrInvalidInput}
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = s.now()
	}
	cp := *session
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.EndedAt == nil {
		t := endedAt
		sess.EndedAt = &t
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, copySession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) LatestActiveSession(ctx context.Context, userID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.EndedAt != nil {
			continue
		}
		if latest == nil || sess.StartedAt.After(latest.StartedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copySession(latest), nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *types.Message) (bool, error) {
	if msg == nil || msg.SessionID == "" {
		return false, storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return false, storage.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := s.msgIDs[msg.ID]; dup {
		return false, nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	cp := *msg
	if cp.UserID == "" {
		cp.UserID = sess.UserID
	}
	s.messages[cp.SessionID] = append(s.messages[cp.SessionID], &cp)
	s.msgIDs[cp.ID] = struct{}{}
	sess.MessageCount++
	return true, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	out := make([]*types.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListUserMessages(ctx context.Context, userID string, since time.Time) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.UserID == userID && !m.CreatedAt.Before(since) {
				cp := *m
				out = append(out, &cp)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- memories ---

func (s *Store) CreateMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, ok := s.memories[m.ID]; ok {
		return &storage.ConflictError{Op: "memstore: create memory", Err: storage.ErrInvalidInput}
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.VerificationStatus == "" {
		m.VerificationStatus = types.VerificationNotVerified
	}
	s.memories[m.ID] = copyMemory(m)
	return nil
}

func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMemory(m), nil
}

func (s *Store) ListMemories(ctx context.Context, userID string, filter storage.MemoryFilter) ([]*types.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var want map[string]struct{}
	if len(filter.IDs) > 0 {
		want = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			want[id] = struct{}{}
		}
	}

	var out []*types.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if want != nil {
			if _, ok := want[m.ID]; !ok {
				continue
			}
		}
		if !filter.CreatedAfter.IsZero() && !m.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		out = append(out, copyMemory(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) TouchMemories(ctx context.Context, userID string, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		m, ok := s.memories[id]
		if !ok || m.UserID != userID {
			continue
		}
		t := at
		m.ReferenceCount++
		m.LastReferencedAt = &t
	}
	return nil
}

func (s *Store) UpdateVerification(ctx context.Context, id string, upd storage.VerificationUpdate) (bool, error) {
	if !upd.Status.IsValid() {
		return false, storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if upd.OnlyIfAutomatic && m.VerificationStatus.IsHumanSet() {
		return false, nil
	}
	m.VerificationStatus = upd.Status
	if upd.Note != "" {
		m.ClarificationNote = upd.Note
	}
	m.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.memories, id)
	delete(s.vectors, id)

	kept := s.samples[:0]
	for _, smp := range s.samples {
		if smp.MemoryID != id {
			kept = append(kept, smp)
		}
	}
	s.samples = kept

	for tid, t := range s.triggers {
		if t.MemoryID == id && !t.Sent {
			delete(s.triggers, tid)
		}
	}
	return nil
}

// --- graph ---

func (s *Store) UpsertNode(ctx context.Context, node *types.GraphNode) (*types.GraphNode, error) {
	if node == nil || node.UserID == "" || node.Name == "" || node.Type == "" {
		return nil, storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := node.LastUpdated
	if now.IsZero() {
		now = s.now()
	}
	key := nodeKey{node.UserID, node.Name, node.Type}
	if id, ok := s.nodeIndex[key]; ok {
		existing := s.nodes[id]
		existing.LastUpdated = now
		cp := *existing
		return &cp, nil
	}

	n := *node
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = now
	n.LastUpdated = now
	s.nodes[n.ID] = &n
	s.nodeIndex[key] = n.ID
	cp := n
	return &cp, nil
}

func (s *Store) UpsertEdge(ctx context.Context, edge *types.GraphEdge) (*types.GraphEdge, error) {
	if edge == nil || edge.UserID == "" || edge.Relationship == "" {
		return nil, storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok1 := s.nodes[edge.SourceID]
	dst, ok2 := s.nodes[edge.TargetID]
	if !ok1 || !ok2 || src.UserID != edge.UserID || dst.UserID != edge.UserID {
		return nil, storage.ErrInvalidInput
	}

	now := edge.UpdatedAt
	if now.IsZero() {
		now = s.now()
	}
	strength := types.ClampStrength(edge.Strength)
	key := edgeKey{edge.SourceID, edge.TargetID, edge.Relationship}
	if id, ok := s.edgeIndex[key]; ok {
		existing := s.edges[id]
		existing.Strength = strength
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	e := *edge
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Strength = strength
	e.CreatedAt = now
	e.UpdatedAt = now
	s.edges[e.ID] = &e
	s.edgeIndex[key] = e.ID
	cp := e
	return &cp, nil
}

func (s *Store) ListNodes(ctx context.Context, userID string) ([]*types.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GraphNode
	for _, n := range s.nodes {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) ListEdges(ctx context.Context, userID string) ([]*types.GraphEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GraphEdge
	for _, e := range s.edges {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- timeline ---

func (s *Store) AppendSample(ctx context.Context, smp *types.MetricSample) error {
	if err := smp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if smp.ID == "" {
		smp.ID = uuid.NewString()
	}
	if smp.RecordedAt.IsZero() {
		smp.RecordedAt = s.now()
	}
	cp := *smp
	s.samples = append(s.samples, &cp)
	return nil
}

func (s *Store) ListSamples(ctx context.Context, userID, metric string, since time.Time) ([]*types.MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.MetricSample
	for _, smp := range s.samples {
		if smp.UserID != userID || (metric != "" && smp.Metric != metric) || smp.RecordedAt.Before(since) {
			continue
		}
		cp := *smp
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// --- triggers ---

func (s *Store) CreateTrigger(ctx context.Context, t *types.EngagementTrigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.triggers[t.ID]; ok {
		return &storage.ConflictError{Op: "memstore: create trigger", Err: storage.ErrInvalidInput}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.triggers[t.ID] = copyTrigger(t)
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*types.EngagementTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTrigger(t), nil
}

func (s *Store) ListDueTriggers(ctx context.Context, from, now time.Time, limit int) ([]*types.EngagementTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.EngagementTrigger
	for _, t := range s.triggers {
		if !t.Sent && !t.ScheduledFor.After(now) && (from.IsZero() || !t.ScheduledFor.Before(from)) {
			out = append(out, copyTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListUserTriggers(ctx context.Context, userID string, filter storage.TriggerFilter) ([]*types.EngagementTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.EngagementTrigger
	for _, t := range s.triggers {
		if t.UserID == userID && filter.Matches(t) {
			out = append(out, copyTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (s *Store) MarkTriggerSent(ctx context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Sent {
		return storage.ErrAlreadySent
	}
	at := sentAt
	t.Sent = true
	t.SentAt = &at
	return nil
}

// --- relationship depth ---

func (s *Store) GetDepth(ctx context.Context, userID string) (*types.RelationshipDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.depths[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyDepth(d), nil
}

func (s *Store) UpsertDepth(ctx context.Context, d *types.RelationshipDepth) error {
	if d == nil || d.UserID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depths[d.UserID] = copyDepth(d)
	return nil
}

// --- vectors ---

func (s *Store) StoreEmbedding(ctx context.Context, memoryID, userID string, vec []float32) error {
	if memoryID == "" || len(vec) == 0 {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[memoryID]; !ok {
		return storage.ErrNotFound
	}
	s.vectors[memoryID] = vector{userID: userID, vec: append([]float32(nil), vec...)}
	return nil
}

func (s *Store) NearestMemories(ctx context.Context, userID string, vec []float32, k int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		id  string
		sim float64
	}
	var all []scored
	for id, v := range s.vectors {
		if v.userID != userID {
			continue
		}
		all = append(all, scored{id, CosineSimilarity(vec, v.vec)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// --- copies ---

func copySession(s *types.Session) *types.Session {
	cp := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func copyMemory(m *types.Memory) *types.Memory {
	cp := *m
	if m.Surface != nil {
		l := *m.Surface
		l.People = append([]string(nil), m.Surface.People...)
		cp.Surface = &l
	}
	if m.Emotional != nil {
		l := *m.Emotional
		l.Emotions = append([]string(nil), m.Emotional.Emotions...)
		cp.Emotional = &l
	}
	if m.Contextual != nil {
		l := *m.Contextual
		cp.Contextual = &l
	}
	if m.Predictive != nil {
		l := *m.Predictive
		l.TriggerKeywords = append([]string(nil), m.Predictive.TriggerKeywords...)
		cp.Predictive = &l
	}
	if m.LastReferencedAt != nil {
		t := *m.LastReferencedAt
		cp.LastReferencedAt = &t
	}
	return &cp
}

func copyTrigger(t *types.EngagementTrigger) *types.EngagementTrigger {
	cp := *t
	if t.SentAt != nil {
		at := *t.SentAt
		cp.SentAt = &at
	}
	return &cp
}

func copyDepth(d *types.RelationshipDepth) *types.RelationshipDepth {
	cp := *d
	cp.Milestones = append([]types.Milestone(nil), d.Milestones...)
	return &cp
}
