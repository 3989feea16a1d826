package behavior

import "reflect"

// RequestName returns the unqualified type name of req, dereferencing pointers.
func RequestName(req any) string {
	t := reflect.TypeOf(req)
	if t == nil {
		return "<nil>"
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if n := t.Name(); n != "" {
		return n
	}

	return t.String()
}
