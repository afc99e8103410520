package domain

// DeriveProductStatus computes a product's status from its index-aligned
// output slots. A nil slot is an image that failed to process.
//
//   - PROCESSED when every image succeeded
//   - FAILED when no image succeeded
//   - PARTIALLY_PROCESSED otherwise
func DeriveProductStatus(outputs []*string) ProductStatus {
	succeeded := 0
	for _, out := range outputs {
		if out != nil {
			succeeded++
		}
	}

	switch {
	case len(outputs) == 0 || succeeded == 0:
		return ProductStatusFailed
	case succeeded == len(outputs):
		return ProductStatusProcessed
	default:
		return ProductStatusPartiallyProcessed
	}
}

// DeriveRequestStatus computes a request's terminal status from its products'
// outcomes. A single non-FAILED product is enough to complete the request;
// only a request whose every product failed is FAILED. This mirrors the
// tolerance at the product level, where partial output still counts as
// progress worth reporting.
func DeriveRequestStatus(products []Product) RequestStatus {
	for i := range products {
		if products[i].Status != ProductStatusFailed {
			return RequestStatusCompleted
		}
	}
	return RequestStatusFailed
}

// SuccessFailCounts returns the number of fully processed and fully failed
// products. Partially processed products count toward neither; webhook
// consumers see them reflected in the request status instead.
func SuccessFailCounts(products []Product) (success, failed int) {
	for i := range products {
		switch products[i].Status {
		case ProductStatusProcessed:
			success++
		case ProductStatusFailed:
			failed++
		}
	}
	return success, failed
}
