package packager

/**
Closure is an explicit closure: a registered function plus the values it captured from its enclosing scope.
Captured values are serialized into the payload and passed as the leading positional parameters when the
function runs in the container, e.g.

	factor := 3
	packager.Bind("scale", factor)   // runs scale(factor, args...)
*/
type Closure struct {
	Name     string
	Captured []interface{}
}

func Func(name string) Closure {
	return Closure{Name: name}
}

/**
captured values go through the same checks as arguments. That includes the io.Closer rule, which also
applies to a plain struct value whose pointer type has a Close method (a bytes.Buffer-like value with a
Close on *T is refused even when passed by value). Capture the plain data instead
*/
func Bind(name string, captured ...interface{}) Closure {
	return Closure{Name: name, Captured: captured}
}
