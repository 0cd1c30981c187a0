package schema

// Identity keys are deterministic so that repeated ingestion of an unchanged
// file converges on the same nodes instead of duplicating them.

// Separator joins a file path with a local symbol name inside an identity key.
const Separator = "::"

// FileKey returns the identity key of a File node.
func FileKey(path string) string { return path }

// FunctionKey returns the identity key of a module-level function.
func FunctionKey(path, name string) string { return path + Separator + name }

// ClassKey returns the identity key of a class.
func ClassKey(path, name string) string { return path + Separator + name }

// MethodKey returns the identity key of a method defined on a class.
func MethodKey(path, class, method string) string {
	return path + Separator + class + "." + method
}

// ImportKey returns the identity key of an imported name within a file.
func ImportKey(path, name string) string { return path + Separator + name }
