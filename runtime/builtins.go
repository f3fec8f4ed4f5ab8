package runtime

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Core builtins
// ---------------------------------------------------------------------------

func installBuiltins(rt *Runtime) {
	installObject(rt)
	installKernel(rt)
	installInteger(rt)
	installFloat(rt)
	installString(rt)
	installArray(rt)
	installProc(rt)
	installClass(rt)
	installException(rt)
}

func def(c *Class, name string, arity int, fn NativeFunc) {
	c.mu.Lock()
	c.methods[name] = NewNativeMethod(name, arity, fn)
	c.mu.Unlock()
}

func installObject(rt *Runtime) {
	obj := rt.objectClass
	def(obj, "class", 0, func(ctx *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return ctx.Runtime.ClassOf(self), nil
	})
	def(obj, "==", 1, func(_ *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		return Equal(self, args[0]), nil
	})
	def(obj, "!=", 1, func(_ *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		return !Equal(self, args[0]), nil
	})
	def(obj, "equal?", 1, func(_ *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		return self == args[0], nil
	})
	def(obj, "nil?", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return self == nil, nil
	})
	def(obj, "!", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return !Truthy(self), nil
	})
	def(obj, "to_s", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return ToS(self), nil
	})
	def(obj, "inspect", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return Inspect(self), nil
	})
	def(obj, "respond_to?", 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		name, ok := args[0].(Symbol)
		if !ok {
			return nil, ctx.Runtime.Raise("TypeError", "%s is not a symbol", Inspect(args[0]))
		}
		return ctx.Runtime.ClassOf(self).FindMethod(string(name)) != nil, nil
	})
}

func installKernel(rt *Runtime) {
	obj := rt.objectClass
	def(obj, "puts", -1, func(ctx *ThreadContext, _ Value, args []Value, _ *Block) (Value, error) {
		if len(args) == 0 {
			fmt.Fprintln(ctx.Runtime.Out)
		}
		for _, a := range args {
			if arr, ok := a.(*Array); ok {
				for _, e := range arr.Elems {
					fmt.Fprintln(ctx.Runtime.Out, ToS(e))
				}
				continue
			}
			fmt.Fprintln(ctx.Runtime.Out, ToS(a))
		}
		return nil, nil
	})
	def(obj, "print", -1, func(ctx *ThreadContext, _ Value, args []Value, _ *Block) (Value, error) {
		for _, a := range args {
			fmt.Fprint(ctx.Runtime.Out, ToS(a))
		}
		return nil, nil
	})
	def(obj, "p", -1, func(ctx *ThreadContext, _ Value, args []Value, _ *Block) (Value, error) {
		for _, a := range args {
			fmt.Fprintln(ctx.Runtime.Out, Inspect(a))
		}
		if len(args) == 1 {
			return args[0], nil
		}
		return NewArray(args...), nil
	})
	def(obj, "proc", 0, func(ctx *ThreadContext, _ Value, _ []Value, blk *Block) (Value, error) {
		if blk == nil {
			return nil, ctx.Runtime.Raise("ArgumentError", "tried to create Proc object without a block")
		}
		return blk.AsProc(), nil
	})
	def(obj, "lambda", 0, func(ctx *ThreadContext, _ Value, _ []Value, blk *Block) (Value, error) {
		if blk == nil {
			return nil, ctx.Runtime.Raise("ArgumentError", "tried to create Proc object without a block")
		}
		return blk.AsLambda(), nil
	})
	def(obj, "block_given?", 0, func(ctx *ThreadContext, _ Value, _ []Value, _ *Block) (Value, error) {
		f := ctx.CurrentFrame()
		return f != nil && f.Block != nil, nil
	})
	def(obj, "raise", -1, func(ctx *ThreadContext, _ Value, args []Value, _ *Block) (Value, error) {
		return nil, raiseFromArgs(ctx.Runtime, args)
	})
}

func raiseFromArgs(rt *Runtime, args []Value) error {
	if len(args) == 0 {
		return rt.Raise("RuntimeError", "unhandled exception")
	}
	msg := ""
	if len(args) > 1 {
		msg = ToS(args[1])
	}
	switch x := args[0].(type) {
	case string:
		return rt.Raise("RuntimeError", "%s", x)
	case *Class:
		if !x.IsException() {
			return rt.Raise("TypeError", "exception class/object expected")
		}
		if msg == "" {
			msg = x.Name()
		}
		exc := NewObject(x)
		exc.SetField("@message", msg)
		return &RaiseException{Exception: exc}
	case *Object:
		if !x.class.IsException() {
			return rt.Raise("TypeError", "exception class/object expected")
		}
		if len(args) > 1 {
			x.SetField("@message", msg)
		}
		return &RaiseException{Exception: x}
	}
	return rt.Raise("TypeError", "exception class/object expected")
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func intBinop(name string, op func(a, b int64) (Value, error), fop func(a, b float64) Value) NativeFunc {
	return func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		a := self.(int64)
		switch b := args[0].(type) {
		case int64:
			return op(a, b)
		case float64:
			return fop(float64(a), b), nil
		}
		return nil, ctx.Runtime.Raise("TypeError", "%s can't be coerced into Integer for %s", Inspect(args[0]), name)
	}
}

func installInteger(rt *Runtime) {
	c := rt.integerClass
	def(c, "+", 1, intBinop("+", func(a, b int64) (Value, error) { return a + b, nil }, func(a, b float64) Value { return a + b }))
	def(c, "-", 1, intBinop("-", func(a, b int64) (Value, error) { return a - b, nil }, func(a, b float64) Value { return a - b }))
	def(c, "*", 1, intBinop("*", func(a, b int64) (Value, error) { return a * b, nil }, func(a, b float64) Value { return a * b }))
	def(c, "/", 1, func(ctx *ThreadContext, self Value, args []Value, blk *Block) (Value, error) {
		if b, ok := args[0].(int64); ok && b == 0 {
			return nil, ctx.Runtime.Raise("ZeroDivisionError", "divided by 0")
		}
		return intBinop("/", func(a, b int64) (Value, error) {
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return q, nil
		}, func(a, b float64) Value { return a / b })(ctx, self, args, blk)
	})
	def(c, "%", 1, func(ctx *ThreadContext, self Value, args []Value, blk *Block) (Value, error) {
		if b, ok := args[0].(int64); ok && b == 0 {
			return nil, ctx.Runtime.Raise("ZeroDivisionError", "divided by 0")
		}
		return intBinop("%", func(a, b int64) (Value, error) {
			m := a % b
			if m != 0 && ((m < 0) != (b < 0)) {
				m += b
			}
			return m, nil
		}, func(a, b float64) Value { return math.Mod(a, b) })(ctx, self, args, blk)
	})
	cmp := func(name string, f func(a, b float64) bool) {
		def(c, name, 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
			b, ok := toFloat(args[0])
			if !ok {
				return nil, ctx.Runtime.Raise("ArgumentError", "comparison of Integer with %s failed", Inspect(args[0]))
			}
			if bi, isInt := args[0].(int64); isInt {
				a := self.(int64)
				switch name {
				case "<":
					return a < bi, nil
				case "<=":
					return a <= bi, nil
				case ">":
					return a > bi, nil
				case ">=":
					return a >= bi, nil
				}
			}
			return f(float64(self.(int64)), b), nil
		})
	}
	cmp("<", func(a, b float64) bool { return a < b })
	cmp("<=", func(a, b float64) bool { return a <= b })
	cmp(">", func(a, b float64) bool { return a > b })
	cmp(">=", func(a, b float64) bool { return a >= b })
	def(c, "times", 0, func(ctx *ThreadContext, self Value, _ []Value, blk *Block) (Value, error) {
		if blk == nil {
			return nil, ctx.Runtime.Raise("LocalJumpError", "no block given (yield)")
		}
		n := self.(int64)
		for i := int64(0); i < n; i++ {
			if _, err := blk.Call(ctx, []Value{i}, nil); err != nil {
				return nil, err
			}
		}
		return self, nil
	})
}

func installFloat(rt *Runtime) {
	c := rt.floatClass
	arith := func(name string, f func(a, b float64) float64) {
		def(c, name, 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
			b, ok := toFloat(args[0])
			if !ok {
				return nil, ctx.Runtime.Raise("TypeError", "%s can't be coerced into Float", Inspect(args[0]))
			}
			return f(self.(float64), b), nil
		})
	}
	arith("+", func(a, b float64) float64 { return a + b })
	arith("-", func(a, b float64) float64 { return a - b })
	arith("*", func(a, b float64) float64 { return a * b })
	arith("/", func(a, b float64) float64 { return a / b })
	cmp := func(name string, f func(a, b float64) bool) {
		def(c, name, 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
			b, ok := toFloat(args[0])
			if !ok {
				return nil, ctx.Runtime.Raise("ArgumentError", "comparison of Float with %s failed", Inspect(args[0]))
			}
			return f(self.(float64), b), nil
		})
	}
	cmp("<", func(a, b float64) bool { return a < b })
	cmp(">", func(a, b float64) bool { return a > b })
}

func installString(rt *Runtime) {
	c := rt.stringClass
	def(c, "+", 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		s, ok := args[0].(string)
		if !ok {
			return nil, ctx.Runtime.Raise("TypeError", "no implicit conversion of %s into String", ctx.Runtime.ClassOf(args[0]).Name())
		}
		return self.(string) + s, nil
	})
	def(c, "size", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return int64(len(self.(string))), nil
	})
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func installArray(rt *Runtime) {
	c := rt.arrayClass
	def(c, "size", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return int64(len(self.(*Array).Elems)), nil
	})
	def(c, "[]", 1, func(ctx *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		idx, ok := args[0].(int64)
		if !ok {
			return nil, ctx.Runtime.Raise("TypeError", "no implicit conversion of %s into Integer", ctx.Runtime.ClassOf(args[0]).Name())
		}
		elems := self.(*Array).Elems
		if idx < 0 {
			idx += int64(len(elems))
		}
		if idx < 0 || idx >= int64(len(elems)) {
			return nil, nil
		}
		return elems[idx], nil
	})
	push := func(_ *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		arr := self.(*Array)
		arr.Elems = append(arr.Elems, args...)
		return arr, nil
	}
	def(c, "<<", 1, push)
	def(c, "push", -1, push)
	def(c, "each", 0, func(ctx *ThreadContext, self Value, _ []Value, blk *Block) (Value, error) {
		if blk == nil {
			return nil, ctx.Runtime.Raise("LocalJumpError", "no block given (yield)")
		}
		arr := self.(*Array)
		for i := 0; i < len(arr.Elems); i++ {
			if _, err := blk.Call(ctx, []Value{arr.Elems[i]}, nil); err != nil {
				return nil, err
			}
		}
		return arr, nil
	})
	def(c, "map", 0, func(ctx *ThreadContext, self Value, _ []Value, blk *Block) (Value, error) {
		if blk == nil {
			return nil, ctx.Runtime.Raise("LocalJumpError", "no block given (yield)")
		}
		arr := self.(*Array)
		out := make([]Value, 0, len(arr.Elems))
		for i := 0; i < len(arr.Elems); i++ {
			v, err := blk.Call(ctx, []Value{arr.Elems[i]}, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return NewArray(out...), nil
	})
}

// ---------------------------------------------------------------------------
// Procs, classes, exceptions
// ---------------------------------------------------------------------------

func installProc(rt *Runtime) {
	c := rt.procClass
	call := func(ctx *ThreadContext, self Value, args []Value, blk *Block) (Value, error) {
		return self.(*Block).Call(ctx, args, blk)
	}
	def(c, "call", -1, call)
	def(c, "()", -1, call)
	def(c, "lambda?", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return self.(*Block).Lambda, nil
	})
}

func installClass(rt *Runtime) {
	c := rt.classClass
	def(c, "new", -1, func(ctx *ThreadContext, self Value, args []Value, blk *Block) (Value, error) {
		class := self.(*Class)
		obj := NewObject(class)
		if init := class.FindMethod("initialize"); init != nil {
			if _, err := init.Call(ctx, obj, args, blk); err != nil {
				return nil, err
			}
		}
		return obj, nil
	})
	def(c, "name", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return self.(*Class).Name(), nil
	})
}

func installException(rt *Runtime) {
	c := rt.exceptionClass
	def(c, "initialize", -1, func(_ *ThreadContext, self Value, args []Value, _ *Block) (Value, error) {
		obj := self.(*Object)
		if len(args) > 0 {
			obj.SetField("@message", ToS(args[0]))
		} else {
			obj.SetField("@message", obj.Class().Name())
		}
		return nil, nil
	})
	def(c, "message", 0, func(_ *ThreadContext, self Value, _ []Value, _ *Block) (Value, error) {
		return ToS(self.(*Object).GetField("@message")), nil
	})
}
