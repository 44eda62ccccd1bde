package webmentions

// Storage is the durable backend contract. Implementations must be safe for
// concurrent use; each operation is self-contained.
//
// Store upserts by (source, target, direction): the first write fixes
// created_at, later writes refresh descriptive fields and updated_at only.
// Delete is idempotent. Retrieve returns all rows for a resource in the given
// direction; incoming mentions are looked up by their target and outgoing
// mentions by their source.
type Storage interface {
	Store(mention *Mention) error
	Delete(source, target string, direction Direction) error
	Retrieve(resource string, direction Direction) ([]*Mention, error)
}
