package errx

// Category codes. The first two digits select the domain; the last three
// are left for subcodes.
const (
	CodeCLI      = "70000"
	CodeAuth     = "71000"
	CodeRegistry = "72000"
	CodeAPI      = "73000"
	CodeDeploy   = "74000"
	CodeImage    = "75000"
	CodeConfig   = "79000"
)

// Category descriptions, one per code.
const (
	DescCLI      = "CLI/argument validation error"
	DescAuth     = "Authentication error"
	DescRegistry = "Registry error"
	DescAPI      = "Platform API error"
	DescDeploy   = "Deployment error"
	DescImage    = "Local image error"
	DescConfig   = "Configuration error"
)
