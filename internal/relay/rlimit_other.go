//go:build !linux && !darwin

package relay

// DescriptorLimit reports 0 where the limit cannot be queried
func DescriptorLimit() (uint64, error) {
	return 0, nil
}

func isResourceExhausted(err error) bool {
	return false
}
