package scripthost

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// registerGlobals installs every host binding spec.md §4.5 names.
func (h *Host) registerGlobals() {
	rt := h.rt
	_ = rt.Set("console", h.consoleObject())
	_ = rt.Set("AwsProvider", h.awsProviderObject())
	_ = rt.Set("Cluster", h.clusterConstructor())
	_ = rt.Set("ask", h.askFunc())
	_ = rt.Set("disco", h.discoObject())
}

func (h *Host) consoleObject() *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = fmt.Sprint(a.Export())
		}
		fmt.Fprintln(h.stdout, strings.Join(parts, " "))
		return goja.Undefined()
	})
	return obj
}

func (h *Host) askFunc() func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		prompt := call.Argument(0).String()
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) {
				return h.readYesNo(prompt)
			},
			func(v interface{}) goja.Value { return h.rt.ToValue(v.(bool)) },
		)
	}
}

func (h *Host) awsProviderObject() *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("init", func(call goja.FunctionCall) goja.Value {
		spec := ProviderSpec{
			Name:    stringField(call.Argument(0), "name"),
			Region:  stringField(call.Argument(0), "region"),
			Profile: stringField(call.Argument(0), "profile"),
		}
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.InitProvider(ctx, spec) },
			func(v interface{}) goja.Value { return h.providerObject(v.(ProviderRef)) },
		)
	})
	return obj
}

func (h *Host) providerObject(ref ProviderRef) *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("role", func(call goja.FunctionCall) goja.Value {
		name := stringField(call.Argument(0), "name")
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.EnsureRole(ctx, ref, name) },
			func(v interface{}) goja.Value { return h.roleObject(v.(RoleRef)) },
		)
	})
	_ = obj.Set("storage", func(call goja.FunctionCall) goja.Value {
		bucket := stringField(call.Argument(0), "bucket")
		role := RoleRef(stringField(call.Argument(0), "role"))
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.EnsureStorage(ctx, ref, bucket, role) },
			func(v interface{}) goja.Value { return h.storageObject(v.(StorageRef)) },
		)
	})
	_ = obj.Set("__ref", string(ref))
	return obj
}

func (h *Host) roleObject(ref RoleRef) *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("__ref", string(ref))
	return obj
}

func (h *Host) storageObject(ref StorageRef) *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("__ref", string(ref))
	return obj
}

// clusterConstructor backs `new Cluster({name, provider, role?,
// storage?})`. Construction does no I/O (spec.md §4.5); it only
// registers bookkeeping with the backend and stores the resulting
// ClusterRef in the Arena.
func (h *Host) clusterConstructor() func(goja.ConstructorCall) *goja.Object {
	return func(call goja.ConstructorCall) *goja.Object {
		arg := argAt(call.Arguments, 0)
		spec := ClusterSpec{
			Name:     stringField(arg, "name"),
			Provider: ProviderRef(refField(arg, "provider")),
			Role:     RoleRef(refField(arg, "role")),
			Storage:  StorageRef(refField(arg, "storage")),
		}
		ref, err := h.backend.NewCluster(h.ctx, spec)
		if err != nil {
			panic(h.rt.NewGoError(err))
		}
		handle := h.arena.Store(ref)
		return h.clusterObject(call.This, handle)
	}
}

func (h *Host) clusterObject(obj *goja.Object, handle Handle) *goja.Object {
	ref := func() ClusterRef {
		v, _ := h.arena.Get(handle)
		return v.(ClusterRef)
	}

	_ = obj.Set("healthy", func(call goja.FunctionCall) goja.Value {
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.Healthy(ctx, ref()) },
			func(v interface{}) goja.Value { return h.rt.ToValue(v.(bool)) },
		)
	})
	_ = obj.Set("set_key_pair", func(call goja.FunctionCall) goja.Value {
		private := stringField(call.Argument(0), "private")
		public := stringField(call.Argument(0), "public")
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) {
				return nil, h.backend.SetKeyPair(ctx, ref(), private, public)
			},
			nil,
		)
	})
	_ = obj.Set("start_instance", func(call goja.FunctionCall) goja.Value {
		image := stringField(call.Argument(0), "image")
		itype := stringField(call.Argument(0), "instance_type")
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.StartInstance(ctx, ref(), image, itype) },
			func(v interface{}) goja.Value { return instanceStateObject(h.rt, v.(InstanceState)) },
		)
	})
	_ = obj.Set("attach_ip", func(call goja.FunctionCall) goja.Value {
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return h.backend.AttachIP(ctx, ref()) },
			func(v interface{}) goja.Value { return instanceStateObject(h.rt, v.(InstanceState)) },
		)
	})
	_ = obj.Set("ssh_install", func(call goja.FunctionCall) goja.Value {
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return nil, h.backend.SSHInstall(ctx, ref()) },
			nil,
		)
	})
	_ = obj.Set("scale", func(call goja.FunctionCall) goja.Value {
		n := int(call.Argument(0).ToInteger())
		return h.asyncCall(
			func(ctx context.Context) (interface{}, error) { return nil, h.backend.Scale(ctx, ref(), n) },
			nil,
		)
	})
	return obj
}

func instanceStateObject(rt *goja.Runtime, s InstanceState) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("id", s.ID)
	_ = obj.Set("public_ip", s.PublicIP)
	_ = obj.Set("private_ip", s.PrivateIP)
	_ = obj.Set("state", string(s.Status))
	return obj
}

// discoObject backs disco.key(k).on("change", fn).
func (h *Host) discoObject() *goja.Object {
	obj := h.rt.NewObject()
	_ = obj.Set("key", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		keyObj := h.rt.NewObject()
		_ = keyObj.Set("on", func(call2 goja.FunctionCall) goja.Value {
			event := call2.Argument(0).String()
			cb, ok := goja.AssertFunction(call2.Argument(1))
			if event == "change" && ok {
				h.watchKey(key, cb)
			}
			return goja.Undefined()
		})
		return keyObj
	})
	return obj
}

// argAt safely indexes a ConstructorCall/FunctionCall argument list,
// returning undefined for a missing trailing argument the way
// FunctionCall.Argument does.
func argAt(args []goja.Value, i int) goja.Value {
	if i < len(args) {
		return args[i]
	}
	return goja.Undefined()
}

func stringField(v goja.Value, field string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return ""
	}
	f := obj.Get(field)
	if f == nil || goja.IsUndefined(f) {
		return ""
	}
	return f.String()
}

// refField reads a field expected to hold a host object produced by
// this package (Provider/Role/Storage), returning its opaque __ref.
func refField(v goja.Value, field string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return ""
	}
	inner := obj.Get(field)
	if inner == nil || goja.IsUndefined(inner) {
		return ""
	}
	innerObj, ok := inner.(*goja.Object)
	if !ok {
		return ""
	}
	r := innerObj.Get("__ref")
	if r == nil || goja.IsUndefined(r) {
		return ""
	}
	return r.String()
}
