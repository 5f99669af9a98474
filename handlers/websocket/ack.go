package websocket

import (
	"fmt"
	"reflect"
)

// ackInvoker calls back into the client's acknowledgement function with
// (error|nil, status), the wire contract for save acknowledgements.
type ackInvoker func(err error, status string)

// extractAck splits a Socket.IO event's trailing acknowledgement callback,
// if any, from the data arguments.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts a client callback of unknown arity. The first parameter
// receives the error (or nil), the second the status string; extra
// parameters are zeroed.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, status string) {
		numIn := typ.NumIn()
		args := make([]reflect.Value, numIn)
		for i := 0; i < numIn; i++ {
			var argValue any
			switch {
			case numIn == 1:
				if err != nil {
					argValue = err.Error()
				} else {
					argValue = status
				}
			case i == 0:
				if err != nil {
					argValue = err.Error()
				}
			case i == 1:
				argValue = status
			}
			args[i] = coerceValue(argValue, typ.In(i))
		}
		value.Call(args)
	}
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}
	if targetType.Kind() == reflect.Interface && targetType.NumMethod() == 0 {
		return rv
	}
	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}
	return reflect.Zero(targetType)
}
