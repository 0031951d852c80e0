package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// fakeFeed управляемый фид в памяти
type fakeFeed struct {
	name    string
	records []*models.RemoteRecord
	err     error
	fetches int
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) FetchAll(_ context.Context, limit int) ([]*models.RemoteRecord, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	records := f.records
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// fakeZoneFeed фид, дополнительно публикующий зоны
type fakeZoneFeed struct {
	fakeFeed
	zones []*models.Zone
}

func (f *fakeZoneFeed) Zones(_ context.Context) ([]*models.Zone, error) {
	return f.zones, nil
}

// fakeCatalog хранилище каталога в памяти со счетчиком записей
type fakeCatalog struct {
	mu      sync.Mutex
	seq     int
	records map[string]*models.CatalogRecord
	bySKU   map[string]string
	terms   map[string][]int64
	media   map[string][]string
	meta    map[string]map[string]string

	writes  int
	updates map[string][]map[string]interface{}
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		records: make(map[string]*models.CatalogRecord),
		bySKU:   make(map[string]string),
		terms:   make(map[string][]int64),
		media:   make(map[string][]string),
		meta:    make(map[string]map[string]string),
		updates: make(map[string][]map[string]interface{}),
	}
}

// skuKey артикулы уникальны только внутри источника
func skuKey(source, sku string) string {
	return source + "|" + sku
}

func (c *fakeCatalog) FindBySKU(_ context.Context, source, sku string) (*models.CatalogRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.bySKU[skuKey(source, sku)]
	if !ok {
		return nil, nil
	}
	record := *c.records[id]
	return &record, nil
}

func (c *fakeCatalog) CreateRecord(_ context.Context, record *models.CatalogRecord) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.writes++
	id := strconv.Itoa(c.seq)
	stored := *record
	stored.ID = id
	c.records[id] = &stored
	c.bySKU[skuKey(record.Source, record.SKU)] = id
	c.terms[id] = record.TermIDs
	c.media[id] = record.MediaURLs
	meta := make(map[string]string)
	for k, v := range record.Meta {
		meta[k] = v
	}
	c.meta[id] = meta
	return id, nil
}

func (c *fakeCatalog) UpdateRecord(_ context.Context, id string, fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[id]
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}
	c.writes++
	c.updates[id] = append(c.updates[id], fields)
	for key, value := range fields {
		switch key {
		case "name":
			record.Name = value.(string)
		case "price":
			record.Price = value.(float64)
		case "wholesale_price":
			record.WholesalePrice = value.(float64)
		case "stock":
			record.Stock = value.(int)
		case "status":
			record.Status = value.(string)
		case "attributes":
			record.Attributes = value.(map[string]string)
		case "last_synced_at":
			at := value.(time.Time)
			record.LastSyncedAt = &at
		default:
			return fmt.Errorf("unknown column %s", key)
		}
	}
	return nil
}

func (c *fakeCatalog) SetStatus(ctx context.Context, id string, status string) error {
	return c.UpdateRecord(ctx, id, map[string]interface{}{"status": status})
}

func (c *fakeCatalog) SetTerms(_ context.Context, id string, termIDs []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.terms[id] = termIDs
	return nil
}

func (c *fakeCatalog) AttachMedia(_ context.Context, id string, urls []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.media[id] = append(c.media[id], urls...)
	return nil
}

func (c *fakeCatalog) DeleteMedia(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.media[id] = nil
	return nil
}

func (c *fakeCatalog) GetField(_ context.Context, id string, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta[id][key], nil
}

func (c *fakeCatalog) SetField(_ context.Context, id string, key string, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.meta[id] == nil {
		c.meta[id] = make(map[string]string)
	}
	c.meta[id][key] = value
	return nil
}

func (c *fakeCatalog) ListSKUs(_ context.Context, source string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	skus := make(map[string]string)
	for id, record := range c.records {
		if record.Source == source {
			skus[record.SKU] = id
		}
	}
	return skus, nil
}

func (c *fakeCatalog) Close() error { return nil }

func (c *fakeCatalog) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *fakeCatalog) bySKUOrNil(source, sku string) *models.CatalogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.bySKU[skuKey(source, sku)]
	if !ok {
		return nil
	}
	return c.records[id]
}

// fakeTerms хранилище термов в памяти
type fakeTerms struct {
	mu    sync.Mutex
	seq   int64
	terms map[string]int64
}

func newFakeTerms() *fakeTerms {
	return &fakeTerms{terms: make(map[string]int64)}
}

func termKey(label string, parentID int64) string {
	return fmt.Sprintf("%d|%s", parentID, label)
}

func (s *fakeTerms) FindTerm(_ context.Context, label string, parentID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terms[termKey(label, parentID)], nil
}

func (s *fakeTerms) CreateTerm(_ context.Context, label string, parentID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := termKey(label, parentID)
	if id, ok := s.terms[key]; ok {
		return id, nil
	}
	s.seq++
	s.terms[key] = s.seq
	return s.seq, nil
}

// fakeState хранилище состояния импорта в памяти
type fakeState struct {
	mu         sync.Mutex
	cursors    map[string]int
	status     map[string]string
	heartbeats map[string]time.Time
	runLocks   map[string]bool
	pending    map[string]map[string]struct{}
	finished   map[string]map[string]struct{}
	cronSecret string
}

func newFakeState() *fakeState {
	return &fakeState{
		cursors:    make(map[string]int),
		status:     make(map[string]string),
		heartbeats: make(map[string]time.Time),
		runLocks:   make(map[string]bool),
		pending:    make(map[string]map[string]struct{}),
		finished:   make(map[string]map[string]struct{}),
	}
}

func (s *fakeState) Cursor(_ context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[source], nil
}

func (s *fakeState) SetCursor(_ context.Context, source string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = position
	return nil
}

func (s *fakeState) RunStatus(_ context.Context, source string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.status[source]
	if !ok {
		status = interfaces.RunStatusIdle
	}
	return status, s.heartbeats[source], nil
}

func (s *fakeState) SetRunStatus(_ context.Context, source string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[source] = status
	s.heartbeats[source] = time.Now()
	return nil
}

func (s *fakeState) AcquireRun(_ context.Context, source string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runLocks[source] {
		return false, nil
	}
	s.runLocks[source] = true
	return true, nil
}

func (s *fakeState) ReleaseRun(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runLocks, source)
	return nil
}

func (s *fakeState) MarkJobPending(_ context.Context, source string, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[source] == nil {
		s.pending[source] = make(map[string]struct{})
	}
	s.pending[source][jobID] = struct{}{}
	return nil
}

func (s *fakeState) MarkJobDone(_ context.Context, source string, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending[source], jobID)
	if s.finished[source] == nil {
		s.finished[source] = make(map[string]struct{})
	}
	s.finished[source][jobID] = struct{}{}
	return nil
}

func (s *fakeState) PendingJobCount(_ context.Context, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending[source])), nil
}

func (s *fakeState) PurgeFinishedJobs(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.finished, source)
	return nil
}

func (s *fakeState) CronSecret(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cronSecret, nil
}

func (s *fakeState) SetCronSecret(_ context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronSecret = secret
	return nil
}

func (s *fakeState) Close() error { return nil }

// fakeMessaging брокер в памяти, складывающий публикации в срез
type fakeMessaging struct {
	mu       sync.Mutex
	messages []*interfaces.Message
}

func (m *fakeMessaging) Publish(_ context.Context, topic string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, &interfaces.Message{Topic: topic, Value: message})
	return nil
}

func (m *fakeMessaging) Subscribe(_ context.Context, _ string, _ interfaces.MessageHandler) (func() error, error) {
	return func() error { return nil }, nil
}

func (m *fakeMessaging) Close() error { return nil }

func (m *fakeMessaging) byTopic(topic string) []*interfaces.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*interfaces.Message
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
