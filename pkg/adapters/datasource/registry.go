package datasource

import (
	"sort"
	"strings"
	"sync"
)

// DriverInfo describes a registered driver.
type DriverInfo struct {
	Name        string   `json:"name"`         // "postgres", "sqlserver", "mysql", "sqlite"
	DisplayName string   `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"` // other names accepted in configuration
}

// DriverRegistration contains info plus the strategy objects for one driver.
type DriverRegistration struct {
	Info       DriverInfo
	Connect    ConnectFunc
	Grammar    Grammar
	Classifier Classifier
	// OpenDB returns a database/sql pool for tooling such as migrations.
	OpenDB OpenDBFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DriverRegistration)
	aliases    = make(map[string]string)
)

// Register is called by each driver package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DriverRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := strings.ToLower(reg.Info.Name)
	if reg.Grammar == nil {
		reg.Grammar = BaseGrammar{}
	}
	registry[name] = reg
	for _, alias := range reg.Info.Aliases {
		aliases[strings.ToLower(alias)] = name
	}
}

// GetDriver returns the registration for a driver name or alias.
func GetDriver(name string) (DriverRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	reg, ok := registry[name]
	return reg, ok
}

// RegisteredDrivers returns info for all registered drivers, sorted by name.
func RegisteredDrivers() []DriverInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DriverInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// IsRegistered checks if a driver name or alias is available.
func IsRegistered(name string) bool {
	_, ok := GetDriver(name)
	return ok
}
