package processor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
	"github.com/zenghr0820/sipcore/logger"
	"github.com/zenghr0820/sipcore/sip"
)

// 定义异常
type DuplicateMethodError struct {
	Method sip.RequestMethod
	Kind   Kind
}

func (err *DuplicateMethodError) Error() string {
	return fmt.Sprintf("DuplicateMethodError: %s already handled by %s", err.Method, err.Kind)
}

// Table maps methods to processors.
// 处理器表
type Table struct {
	// 请求处理器集合
	processors map[sip.RequestMethod]Processor
	mu         sync.RWMutex
}

func NewTable(processors ...Processor) (*Table, error) {
	t := &Table{
		processors: make(map[sip.RequestMethod]Processor),
	}
	for _, p := range processors {
		if err := t.Register(p); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds p for every method it declares. A method can only have one
// processor.
func (t *Table) Register(p Processor) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, method := range p.Methods() {
		if prev, ok := t.processors[method]; ok {
			return &DuplicateMethodError{Method: method, Kind: prev.Kind()}
		}
	}
	for _, method := range p.Methods() {
		t.processors[method] = p
	}
	logger.Debugf("[processor_table] -> %s registered for %v", p.Kind(), p.Methods())
	return nil
}

func (t *Table) Lookup(method sip.RequestMethod) (Processor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.processors[method]
	return p, ok
}

// 返回实现的方法, 有序
func (t *Table) AllowedMethods() []sip.RequestMethod {
	t.mu.RLock()
	methods := lo.Keys(t.processors)
	t.mu.RUnlock()

	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// Kinds lists the distinct processor kinds in the table.
func (t *Table) Kinds() []Kind {
	t.mu.RLock()
	kinds := lo.Uniq(lo.MapToSlice(t.processors, func(_ sip.RequestMethod, p Processor) Kind {
		return p.Kind()
	}))
	t.mu.RUnlock()

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
