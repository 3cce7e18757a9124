package registry

// Store is the backing storage of a Registry. Implementations need not be
// safe for concurrent use: the Registry serializes every call.
type Store interface {
	Insert(svc *Service)
	Get(id string) (*Service, bool)
	// List returns services in insertion order.
	List() []*Service
	Update(id string, fn func(*Service)) bool
	Delete(id string) (*Service, bool)
	Len() int
}

type memoryStore struct {
	services map[string]*Service
	order    []string
}

// NewMemoryStore returns the default map-backed store.
func NewMemoryStore() Store {
	return &memoryStore{
		services: make(map[string]*Service),
	}
}

func (m *memoryStore) Insert(svc *Service) {
	if _, exists := m.services[svc.ID]; !exists {
		m.order = append(m.order, svc.ID)
	}
	m.services[svc.ID] = svc
}

func (m *memoryStore) Get(id string) (*Service, bool) {
	svc, ok := m.services[id]
	return svc, ok
}

func (m *memoryStore) List() []*Service {
	list := make([]*Service, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.services[id])
	}
	return list
}

func (m *memoryStore) Update(id string, fn func(*Service)) bool {
	svc, ok := m.services[id]
	if !ok {
		return false
	}
	fn(svc)
	return true
}

func (m *memoryStore) Delete(id string) (*Service, bool) {
	svc, ok := m.services[id]
	if !ok {
		return nil, false
	}
	delete(m.services, id)

	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return svc, true
}

func (m *memoryStore) Len() int {
	return len(m.services)
}
