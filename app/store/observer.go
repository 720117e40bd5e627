package store

// ChangeKind 变更类型
type ChangeKind int

const (
	ChangeInserted ChangeKind = iota + 1
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	}
	return "unknown"
}

// Change 变更通知。ID 为 0 表示整个集合发生了变化。
// 通知只说明范围内有变化，观察者需要自行重新查询。
type Change struct {
	Kind ChangeKind
	ID   uint
}

type observer struct {
	id uint
	ch chan Change
}

func (o *observer) matches(c Change) bool {
	return o.id == 0 || c.ID == 0 || c.ID == o.id
}

// Watch 注册观察者。id 为 0 时观察整个集合，否则只观察该任务。
// 观察者来不及消费时，新的通知会被合并丢弃。
func (s *TaskStore) Watch(id uint) (<-chan Change, func()) {
	o := &observer{id: id, ch: make(chan Change, 1)}

	s.obsMu.Lock()
	key := s.nextObs
	s.nextObs++
	s.observers[key] = o
	s.obsMu.Unlock()

	cancel := func() {
		s.obsMu.Lock()
		delete(s.observers, key)
		s.obsMu.Unlock()
	}
	return o.ch, cancel
}

func (s *TaskStore) notify(c Change) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	for _, o := range s.observers {
		if !o.matches(c) {
			continue
		}
		select {
		case o.ch <- c:
		default:
		}
	}
}
