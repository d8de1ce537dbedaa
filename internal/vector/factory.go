package vector

import "fmt"

// IndexType names an index metric.
type IndexType string

const (
	// IndexTypeL2 is exact search by squared Euclidean distance.
	IndexTypeL2 IndexType = "l2"
	// IndexTypeIP is exact search by inner product.
	IndexTypeIP IndexType = "ip"
)

// NewIndex creates an empty index for the given metric. An empty metric means "l2".
func NewIndex(metric string, dimensions int) (Index, error) {
	switch IndexType(metric) {
	case IndexTypeL2, "":
		return NewFlatL2Index(dimensions)
	case IndexTypeIP:
		return NewFlatIPIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index metric: %s (supported: l2, ip)", metric)
	}
}
