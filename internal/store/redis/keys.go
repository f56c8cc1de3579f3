package redis

const (
	// KeyPrefixLeaf is the prefix for leaf records
	KeyPrefixLeaf = "forest:leaf:"
	// KeyPrefixLeafName maps a leaf name to its ID
	KeyPrefixLeafName = "forest:leaf-name:"
	// KeyPrefixAddress maps a leaf address to its ID
	KeyPrefixAddress = "forest:address:"
	// KeyAllLeaves is the key for the set of all leaf IDs
	KeyAllLeaves = "forest:leaves:all"

	// KeyPrefixSpecies is the prefix for species records
	KeyPrefixSpecies = "forest:species:"
	// KeyPrefixSpeciesName maps a species name to its ID
	KeyPrefixSpeciesName = "forest:species-name:"
	// KeyAllSpecies is the key for the set of all species IDs
	KeyAllSpecies = "forest:species-ids:all"

	// KeyPrefixLog is the prefix for log records
	KeyPrefixLog = "forest:log:"
	// KeyPrefixLeafLogs is the prefix for per leaf log ID lists
	KeyPrefixLeafLogs = "forest:logs:"
	// KeyPrefixTraceback maps a traceback ID to its log record ID
	KeyPrefixTraceback = "forest:traceback:"
)

func LeafKey(id string) string          { return KeyPrefixLeaf + id }
func LeafNameKey(name string) string    { return KeyPrefixLeafName + name }
func AddressKey(addr string) string     { return KeyPrefixAddress + addr }
func SpeciesKey(id string) string       { return KeyPrefixSpecies + id }
func SpeciesNameKey(name string) string { return KeyPrefixSpeciesName + name }
func LogKey(id string) string           { return KeyPrefixLog + id }
func LeafLogsKey(leafID string) string  { return KeyPrefixLeafLogs + leafID }
func TracebackKey(id string) string     { return KeyPrefixTraceback + id }
