// Package rule 基于 go-playground/validator 的校验，结构体标签为 rule. 配置、上传文件名与
// 头修改请求共用这里注册的规则.
package rule

import (
	"errors"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// maxNameLen 归档文件名与数据标签的最大长度，与目录列宽一致.
const maxNameLen = 255

var (
	inst *validator.Validate
	once sync.Once
)

// custom 归档自己的规则，同时注册到 gin 的 binding 引擎.
var custom = map[string]validator.Func{
	"filename":  isFilename,
	"datalabel": isDataLabel,
}

func initValidator() {
	inst = validator.New(validator.WithRequiredStructEnabled())
	inst.SetTagName("rule")
	inst.RegisterTagNameFunc(fieldName)

	for tag, fn := range custom {
		_ = inst.RegisterValidation(tag, fn)
	}

	// gin 的 binding 标签也能用归档规则
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		for tag, fn := range custom {
			_ = v.RegisterValidation(tag, fn)
		}
	}
}

// fieldName 错误信息里的字段名取 mapstructure，其次 json.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"mapstructure", "json"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}

		if name != "" {
			return name
		}
	}

	return f.Name
}

// isFilename 不带目录的文件名，不以点开头.
func isFilename(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	return s != "" && len(s) <= maxNameLen &&
		s == path.Base(s) && !strings.HasPrefix(s, ".") && !strings.ContainsAny(s, "\\\x00")
}

// isDataLabel 数据标签可打印，不含空白与斜杠.
func isDataLabel(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > maxNameLen || strings.Contains(s, "/") {
		return false
	}

	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}

	return true
}

func lazyInit() {
	once.Do(initValidator)
}

// Engine 全局 *validator.Validate.
func Engine() *validator.Validate {
	lazyInit()

	return inst
}

// RegisterValidation 注册自定义规则.
func RegisterValidation(tag string, fn validator.Func, opts ...bool) error {
	lazyInit()

	return inst.RegisterValidation(tag, fn, opts...)
}

// RegisterAlias 注册别名规则.
func RegisterAlias(alias, rules string) {
	lazyInit()

	inst.RegisterAlias(alias, rules)
}

// ValidateStruct 校验结构体. 失败时返回 *Error，字段名为配置键路径.
func ValidateStruct(s any) error {
	lazyInit()

	return wrap(inst.Struct(s))
}

// ValidateVar 按规则校验单个值，例如 ValidateVar(name, "required,filename").
func ValidateVar(field any, tag string) error {
	lazyInit()

	return wrap(inst.Var(field, tag))
}

// ValidationErrors 字段路径到可读说明.
type ValidationErrors map[string]string

// Error 一次校验的全部字段错误.
type Error struct {
	Fields ValidationErrors
	cause  error
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			parts = append(parts, e.Fields[k])
		} else {
			parts = append(parts, k+": "+e.Fields[k])
		}
	}

	return strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return e.cause }

func wrap(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}

	fields := make(ValidationErrors, len(ves))
	for _, fe := range ves {
		fields[fieldPath(fe)] = describe(fe)
	}

	return &Error{Fields: fields, cause: err}
}

// fieldPath 去掉最外层结构体名，得到 db.type 这样的路径.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}

	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "filename":
		return fmt.Sprintf("%q is not a plain file name", fmt.Sprint(fe.Value()))
	case "datalabel":
		return fmt.Sprintf("%q is not a valid data label", fmt.Sprint(fe.Value()))
	}

	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}

	return "failed " + fe.Tag()
}
