package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// MockWarehouse is an in-memory warehouse. Tables hold rows as column maps so
// added columns read as nil for existing rows, like NULL in a real table.
type MockWarehouse struct {
	mu       sync.Mutex
	schemas  map[string]bool
	tables   map[types.TableRef]*mockTable
	calls    []string
	failures map[string][]error
}

type mockTable struct {
	columns []types.Column
	rows    []map[string]interface{}
}

var _ warehouse.Warehouse = (*MockWarehouse)(nil)

// NewMockWarehouse creates an empty in-memory warehouse.
func NewMockWarehouse() *MockWarehouse {
	return &MockWarehouse{
		schemas:  make(map[string]bool),
		tables:   make(map[types.TableRef]*mockTable),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next call to op (e.g. "AppendTable") return err. Calls
// queue, so FailNext twice fails two consecutive calls.
func (m *MockWarehouse) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns the operations invoked so far, formatted "Op table".
func (m *MockWarehouse) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Seed creates a table with rows, bypassing call tracking.
func (m *MockWarehouse) Seed(ref types.TableRef, columns []types.Column, rows ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTable{columns: append([]types.Column(nil), columns...)}
	for _, r := range rows {
		t.rows = append(t.rows, copyRow(r))
	}
	m.tables[ref] = t
}

// Rows returns a copy of the table's rows, or nil if it does not exist.
func (m *MockWarehouse) Rows(ref types.TableRef) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[ref]
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, len(t.rows))
	for i, r := range t.rows {
		out[i] = copyRow(r)
	}
	return out
}

// HasSchema reports whether EnsureSchema created the schema.
func (m *MockWarehouse) HasSchema(schema string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemas[schema]
}

// track records a call and pops a queued failure. Callers hold m.mu.
func (m *MockWarehouse) track(op string, ref types.TableRef) error {
	m.calls = append(m.calls, op+" "+ref.String())
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MockWarehouse) Ping(_ context.Context) error { return nil }

func (m *MockWarehouse) Close() {}

func (m *MockWarehouse) EnsureSchema(_ context.Context, schema string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("EnsureSchema", types.TableRef{Name: schema}); err != nil {
		return err
	}
	m.schemas[schema] = true
	return nil
}

func (m *MockWarehouse) DescribeTable(_ context.Context, ref types.TableRef) (*types.TableDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("DescribeTable", ref); err != nil {
		return nil, err
	}
	t, ok := m.tables[ref]
	if !ok {
		return nil, nil
	}
	return &types.TableDescriptor{
		Ref:         ref,
		Columns:     append([]types.Column(nil), t.columns...),
		RowEstimate: int64(len(t.rows)),
	}, nil
}

func (m *MockWarehouse) CreateTable(_ context.Context, ref types.TableRef, columns []types.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CreateTable", ref); err != nil {
		return err
	}
	if _, ok := m.tables[ref]; ok {
		return nil
	}
	m.tables[ref] = &mockTable{columns: append([]types.Column(nil), columns...)}
	return nil
}

func (m *MockWarehouse) AddColumns(_ context.Context, ref types.TableRef, columns []types.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("AddColumns", ref); err != nil {
		return err
	}
	t, ok := m.tables[ref]
	if !ok {
		return fmt.Errorf("relation %s does not exist", ref)
	}
	for _, c := range columns {
		if !hasColumn(t.columns, c.Name) {
			t.columns = append(t.columns, c)
		}
	}
	return nil
}

func (m *MockWarehouse) DropTableIfExists(_ context.Context, ref types.TableRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("DropTableIfExists", ref); err != nil {
		return err
	}
	delete(m.tables, ref)
	return nil
}

func (m *MockWarehouse) Analyze(_ context.Context, ref types.TableRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("Analyze", ref); err != nil {
		return err
	}
	if _, ok := m.tables[ref]; !ok {
		return fmt.Errorf("relation %s does not exist", ref)
	}
	return nil
}

func (m *MockWarehouse) CopyRows(_ context.Context, ref types.TableRef, columns []types.Column, rows [][]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("CopyRows", ref); err != nil {
		return 0, err
	}
	t, ok := m.tables[ref]
	if !ok {
		return 0, fmt.Errorf("relation %s does not exist", ref)
	}
	for _, c := range columns {
		if !hasColumn(t.columns, c.Name) {
			return 0, fmt.Errorf("column %s of relation %s does not exist", c.Name, ref)
		}
	}
	for _, row := range rows {
		r := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			r[c.Name] = row[i]
		}
		t.rows = append(t.rows, r)
	}
	return int64(len(rows)), nil
}

func (m *MockWarehouse) AppendTable(_ context.Context, src, dst types.TableRef, columns []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("AppendTable", dst); err != nil {
		return 0, err
	}
	s, ok := m.tables[src]
	if !ok {
		return 0, fmt.Errorf("relation %s does not exist", src)
	}
	d, ok := m.tables[dst]
	if !ok {
		return 0, fmt.Errorf("relation %s does not exist", dst)
	}
	for _, c := range columns {
		if !hasColumn(d.columns, c) {
			return 0, fmt.Errorf("column %s of relation %s does not exist", c, dst)
		}
	}
	for _, row := range s.rows {
		r := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			r[c] = row[c]
		}
		d.rows = append(d.rows, r)
	}
	return int64(len(s.rows)), nil
}

func hasColumn(cols []types.Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func copyRow(r map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
