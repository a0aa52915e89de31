package processor

import (
	lua "github.com/yuin/gopher-lua"
)

// luaValueString converts a value returned by a script into a record field.
func luaValueString(value lua.LValue) string {
	switch v := value.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	case lua.LBool:
		if v {
			return "true"
		}
		return "false"
	case *lua.LNilType:
		return ""
	default:
		if value == lua.LNil {
			return ""
		}

		// Fallback for types we don't explicitly handle (like tables or functions)
		return v.String()
	}
}
