package series

import (
	"fmt"

	"github.com/aristath/pricewatch/internal/domain"
)

// Split cuts s at int(len*trainFraction): the leading part is the training
// partition, the rest the test partition. Order is preserved.
func Split(s *domain.Series, trainFraction float64) (train, test *domain.Series, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1), got %v", trainFraction)
	}

	cut := int(float64(s.Len()) * trainFraction)
	if cut == 0 || cut == s.Len() {
		return nil, nil, domain.NewDataError("split",
			fmt.Sprintf("%d points cannot be split at fraction %v", s.Len(), trainFraction))
	}

	return s.Slice(0, cut), s.Slice(cut, s.Len()), nil
}
