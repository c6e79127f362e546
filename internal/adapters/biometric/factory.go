package biometric

import (
	"sort"
	"strings"
	"sync"
)

// DriverFactory builds a driver for one hardware family.
type DriverFactory func(Options) Driver

var mutex sync.RWMutex

// registeredDrivers maps lower-case brand names to their factories
var registeredDrivers = map[string]DriverFactory{
	BrandZKTeco:    func(o Options) Driver { return NewZKTecoDriver(o) },
	"zk":           func(o Options) Driver { return NewZKTecoDriver(o) },
	"essl":         func(o Options) Driver { return NewZKTecoDriver(o) },
	BrandFingertec: func(o Options) Driver { return NewFingertecDriver(o) },
	"ft":           func(o Options) Driver { return NewFingertecDriver(o) },
}

// RegisterDriver adds or replaces the factory for brand.
func RegisterDriver(brand string, factory DriverFactory) {
	mutex.Lock()
	defer mutex.Unlock()
	registeredDrivers[normalizeBrand(brand)] = factory
}

// NewDriver returns a driver for brand, matched case-insensitively. An
// unknown brand yields nil and false; callers treat the device as
// unsupported.
func NewDriver(brand string, options Options) (Driver, bool) {
	mutex.RLock()
	factory, exists := registeredDrivers[normalizeBrand(brand)]
	mutex.RUnlock()
	if !exists {
		return nil, false
	}
	return factory(options), true
}

// IsSupported reports whether a driver exists for brand.
func IsSupported(brand string) bool {
	mutex.RLock()
	defer mutex.RUnlock()
	_, exists := registeredDrivers[normalizeBrand(brand)]
	return exists
}

// SupportedBrands lists the registered brand names in sorted order.
func SupportedBrands() []string {
	mutex.RLock()
	defer mutex.RUnlock()
	brands := make([]string, 0, len(registeredDrivers))
	for name := range registeredDrivers {
		brands = append(brands, name)
	}
	sort.Strings(brands)
	return brands
}

func normalizeBrand(brand string) string {
	return strings.ToLower(strings.TrimSpace(brand))
}
