package snapshot

// Entity namespaces for IDMap.
const (
	EntityProcess  = "process"
	EntityStage    = "stage"
	EntityField    = "field"
	EntityDocument = "document"
)

// IDMap resolves identifiers from a snapshot to the identifiers assigned on
// restore. It is built incrementally while rows are re-created.
type IDMap struct {
	m map[string]map[string]string
}

func NewIDMap() *IDMap {
	return &IDMap{m: make(map[string]map[string]string)}
}

func (im *IDMap) Put(entity, oldID, newID string) {
	ns, ok := im.m[entity]
	if !ok {
		ns = make(map[string]string)
		im.m[entity] = ns
	}
	ns[oldID] = newID
}

func (im *IDMap) Resolve(entity, oldID string) (string, bool) {
	if oldID == "" {
		return "", false
	}
	id, ok := im.m[entity][oldID]
	return id, ok
}

func (im *IDMap) Len(entity string) int {
	return len(im.m[entity])
}
