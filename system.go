package colony

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unsafe"
)

// Runnable is the interface implemented by loop systems.
// The Run method contains the system's logic and is called when the system executes.
type Runnable interface {
	Run()
}

// With is a phantom type that indicates a component must exist for the system to run.
// The component is not injected into the field, it is only used for filtering.
//
// Usage:
//
//	type MySystem struct {
//	    Entity *colony.Entity
//	    _ colony.With[colony.Station] // only stations
//	}
type With[T any] struct{}

// Without is a phantom type that indicates a component must NOT exist for the system to run.
//
// Usage:
//
//	type MySystem struct {
//	    Entity *colony.Entity
//	    _ colony.Without[colony.CraftedObject]
//	}
type Without[T any] struct{}

// phantomInfo provides component type information for phantom types.
type phantomInfo interface {
	componentType() reflect.Type
	isWithout() bool
}

func (With[T]) componentType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (With[T]) isWithout() bool {
	return false
}

func (Without[T]) componentType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (Without[T]) isWithout() bool {
	return true
}

var phantomInfoType = reflect.TypeOf((*phantomInfo)(nil)).Elem()

// Tag constants
const (
	tagName = "colony"

	modOpt = "opt" // Optional (nil if missing)
	modRes = "res" // Resource injection
)

// FieldKind represents the type of field for injection.
type FieldKind int

const (
	// KindEntity indicates a *Entity field
	KindEntity FieldKind = iota
	// KindManager indicates a *Manager field
	KindManager
	// KindWorld indicates a *World field
	KindWorld
	// KindComponent indicates a component field
	KindComponent
	// KindResource indicates a manager resource field
	KindResource
	// KindPhantomWith indicates a With[T] phantom type
	KindPhantomWith
	// KindPhantomWithout indicates a Without[T] phantom type
	KindPhantomWithout
	// KindPayload indicates a non-injected payload field
	KindPayload
)

// String returns the string representation of FieldKind.
func (k FieldKind) String() string {
	switch k {
	case KindEntity:
		return "Entity"
	case KindManager:
		return "Manager"
	case KindWorld:
		return "World"
	case KindComponent:
		return "Component"
	case KindResource:
		return "Resource"
	case KindPhantomWith:
		return "PhantomWith"
	case KindPhantomWithout:
		return "PhantomWithout"
	case KindPayload:
		return "Payload"
	default:
		return "Unknown"
	}
}

// tagInfo holds parsed tag information.
type tagInfo struct {
	Optional bool // colony:"opt"
	Resource bool // colony:"res"
}

func parseTag(tag string) tagInfo {
	var info tagInfo
	for part := range strings.SplitSeq(tag, ",") {
		switch strings.TrimSpace(part) {
		case modOpt:
			info.Optional = true
		case modRes:
			info.Resource = true
		}
	}
	return info
}

// SystemMeta holds pre-computed metadata about a system type.
// This is computed once at registration time and reused for all executions.
type SystemMeta struct {
	Type reflect.Type
	Name string

	// RequireMask is the bitmask of required components
	RequireMask Bitmask
	// ExcludeMask is the bitmask of excluded components (Without[T])
	ExcludeMask Bitmask

	Fields []FieldMeta

	// PerEntity is set when the system has an *Entity field or filters on components.
	// Such systems run once per matching entity, others once per tick.
	PerEntity bool

	Stage  Stage
	Pool   *sync.Pool
	Bundle *Bundle
}

// FieldMeta holds metadata about a single injectable field.
type FieldMeta struct {
	Offset        uintptr
	Name          string
	Kind          FieldKind
	ComponentID   ComponentID
	ComponentType reflect.Type
	Optional      bool
}

// analyzeSystem analyzes a system type and returns its metadata.
func analyzeSystem(systemType reflect.Type, bundle *Bundle) (*SystemMeta, error) {
	if systemType.Kind() == reflect.Ptr {
		systemType = systemType.Elem()
	}
	if systemType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("colony: system must be a struct, got %v", systemType.Kind())
	}

	meta := &SystemMeta{
		Type:   systemType,
		Name:   systemType.Name(),
		Bundle: bundle,
		Pool: &sync.Pool{
			New: func() any {
				return reflect.New(systemType).Interface()
			},
		},
	}

	entityType := reflect.TypeOf((*Entity)(nil))
	managerType := reflect.TypeOf((*Manager)(nil))
	worldType := reflect.TypeOf((*World)(nil))

	for i := 0; i < systemType.NumField(); i++ {
		field := systemType.Field(i)
		tag := parseTag(field.Tag.Get(tagName))

		fm := FieldMeta{
			Offset:   field.Offset,
			Name:     field.Name,
			Optional: tag.Optional,
		}

		switch {
		case field.Type == entityType:
			fm.Kind = KindEntity
			meta.PerEntity = true

		case field.Type == managerType:
			fm.Kind = KindManager

		case field.Type == worldType:
			fm.Kind = KindWorld

		case field.Type.Implements(phantomInfoType):
			info := reflect.Zero(field.Type).Interface().(phantomInfo)
			compType := info.componentType()
			compID := componentTypes.register(compType)
			if info.isWithout() {
				fm.Kind = KindPhantomWithout
				meta.ExcludeMask.Set(compID)
			} else {
				fm.Kind = KindPhantomWith
				meta.RequireMask.Set(compID)
			}
			fm.ComponentID = compID
			fm.ComponentType = compType
			meta.PerEntity = true

		case tag.Resource:
			if field.Type.Kind() != reflect.Ptr {
				return nil, fmt.Errorf("colony: resource field %s.%s must be a pointer", meta.Name, field.Name)
			}
			fm.Kind = KindResource
			fm.ComponentType = field.Type.Elem()

		case field.Type.Kind() == reflect.Ptr && field.Type.Elem().Kind() == reflect.Struct:
			compType := field.Type.Elem()
			compID := componentTypes.register(compType)
			fm.Kind = KindComponent
			fm.ComponentID = compID
			fm.ComponentType = compType
			if !tag.Optional {
				meta.RequireMask.Set(compID)
			}
			meta.PerEntity = true

		default:
			fm.Kind = KindPayload
			fm.ComponentType = field.Type
		}
		meta.Fields = append(meta.Fields, fm)
	}

	return meta, nil
}

// canRun reports whether e carries every required and none of the excluded components.
func (meta *SystemMeta) canRun(e *Entity) bool {
	mask := e.Mask()
	return mask.ContainsAll(meta.RequireMask) && !mask.ContainsAny(meta.ExcludeMask)
}

// injectSystem injects dependencies into a system instance. e may be nil for
// systems that run once per tick.
func injectSystem(system any, e *Entity, meta *SystemMeta, m *Manager) bool {
	systemPtr := reflect.ValueOf(system).Pointer()

	for i := range meta.Fields {
		field := &meta.Fields[i]

		switch field.Kind {
		case KindEntity:
			setFieldPtr(systemPtr, field.Offset, unsafe.Pointer(e))

		case KindManager:
			setFieldPtr(systemPtr, field.Offset, unsafe.Pointer(m))

		case KindWorld:
			if m.world == nil {
				return false
			}
			setFieldPtr(systemPtr, field.Offset, unsafe.Pointer(m.world))

		case KindComponent:
			var ptr unsafe.Pointer
			if e != nil {
				e.mu.RLock()
				ptr = e.components[field.ComponentID]
				e.mu.RUnlock()
			}
			if ptr == nil && !field.Optional {
				return false
			}
			setFieldPtr(systemPtr, field.Offset, ptr)

		case KindResource:
			res := m.resource(field.ComponentType)
			if res == nil {
				return false
			}
			setFieldPtr(systemPtr, field.Offset, res)

		case KindPayload:
			// payload must not leak between entities when the instance is reused
			zeroPayloadField(systemPtr, field)
		}
	}

	return true
}

// zeroSystem zeros all injected fields in a system for pool reuse.
func zeroSystem(system any, meta *SystemMeta) {
	systemPtr := reflect.ValueOf(system).Pointer()

	for i := range meta.Fields {
		field := &meta.Fields[i]

		switch field.Kind {
		case KindEntity, KindManager, KindWorld, KindComponent, KindResource:
			setFieldPtr(systemPtr, field.Offset, nil)
		case KindPayload:
			zeroPayloadField(systemPtr, field)
		}
	}
}

// setFieldPtr sets a pointer field at the given offset.
func setFieldPtr(base uintptr, offset uintptr, value unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(base + offset)) = value
}

// zeroPayloadField zeros a payload field based on its type.
func zeroPayloadField(base uintptr, field *FieldMeta) {
	if field.ComponentType == nil {
		return
	}
	v := reflect.NewAt(field.ComponentType, unsafe.Pointer(base+field.Offset)).Elem()
	v.Set(reflect.Zero(field.ComponentType))
}
