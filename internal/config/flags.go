package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/yudai/hcl"
)

// EnvPrefix 是选项对应环境变量的前缀。
const EnvPrefix = "SCPI_"

// ErrConfigNotFound 表示配置文件不存在。
var ErrConfigNotFound = errors.New("config file not found")

// GenerateFlags 按 flagName 标签为结构体字段生成命令行参数。
// mappings 把参数名映射到字段名，供 ApplyFlags 使用。
func GenerateFlags(options ...interface{}) (flags []cli.Flag, mappings map[string]string, err error) {
	mappings = make(map[string]string)

	for _, struct_ := range options {
		o := structs.New(struct_)
		for _, field := range o.Fields() {
			flagName := field.Tag("flagName")
			if flagName == "" {
				continue
			}
			envName := EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
			mappings[flagName] = field.Name()

			var aliases []string
			if short := field.Tag("flagSName"); short != "" {
				aliases = []string{short}
			}
			usage := field.Tag("flagDescribe")

			switch field.Kind() {
			case reflect.String:
				flags = append(flags, &cli.StringFlag{
					Name:    flagName,
					Aliases: aliases,
					Value:   field.Value().(string),
					Usage:   usage,
					EnvVars: []string{envName},
				})
			case reflect.Bool:
				flags = append(flags, &cli.BoolFlag{
					Name:    flagName,
					Aliases: aliases,
					Value:   field.Value().(bool),
					Usage:   usage,
					EnvVars: []string{envName},
				})
			case reflect.Int:
				flags = append(flags, &cli.IntFlag{
					Name:    flagName,
					Aliases: aliases,
					Value:   field.Value().(int),
					Usage:   usage,
					EnvVars: []string{envName},
				})
			default:
				return nil, nil, errors.Errorf("unsupported flag type %s for field %s", field.Kind(), field.Name())
			}
		}
	}

	return
}

// ApplyFlags 把用户显式设置（命令行或环境变量）的参数写回结构体。
func ApplyFlags(mappingHint map[string]string, c *cli.Context, options ...interface{}) error {
	objects := make([]*structs.Struct, len(options))
	for i, struct_ := range options {
		objects[i] = structs.New(struct_)
	}

	for flagName, fieldName := range mappingHint {
		if !c.IsSet(flagName) {
			continue
		}

		var field *structs.Field
		for _, o := range objects {
			if f, ok := o.FieldOk(fieldName); ok {
				field = f
				break
			}
		}
		if field == nil {
			continue
		}

		var val interface{}
		switch field.Kind() {
		case reflect.String:
			val = c.String(flagName)
		case reflect.Bool:
			val = c.Bool(flagName)
		case reflect.Int:
			val = c.Int(flagName)
		default:
			continue
		}
		if err := field.Set(val); err != nil {
			return errors.Wrapf(err, "set option %s", fieldName)
		}
	}
	return nil
}

// ApplyConfigFile 用 HCL 文件覆盖结构体字段。
func ApplyConfigFile(filePath string, options ...interface{}) error {
	filePath = ExpandHomeDir(filePath)
	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrConfigNotFound, filePath)
		}
		return errors.Wrapf(err, "read config file %s", filePath)
	}

	for _, object := range options {
		if err := hcl.Decode(object, string(content)); err != nil {
			return errors.Wrapf(err, "parse config file %s", filePath)
		}
	}
	return nil
}

// ApplyDefaultValues 按 default 标签填充字段。
func ApplyDefaultValues(struct_ interface{}) (err error) {
	o := structs.New(struct_)

	for _, field := range o.Fields() {
		defaultValue := field.Tag("default")
		if defaultValue == "" {
			continue
		}

		var val interface{}
		switch field.Kind() {
		case reflect.String:
			val = defaultValue
		case reflect.Bool:
			switch defaultValue {
			case "true":
				val = true
			case "false":
				val = false
			default:
				return errors.Errorf("invalid bool default %q for field %s", defaultValue, field.Name())
			}
		case reflect.Int:
			val, err = strconv.Atoi(defaultValue)
			if err != nil {
				return errors.Wrapf(err, "invalid int default for field %s", field.Name())
			}
		default:
			continue
		}

		if err := field.Set(val); err != nil {
			return errors.Wrapf(err, "set default for %s", field.Name())
		}
	}

	return nil
}

// ExpandHomeDir 把开头的 ~ 展开为用户主目录。
func ExpandHomeDir(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
