package catalog

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/storefront/internal/model"
)

// CreateInput は商品作成の入力値。
// IDを省略した場合はUUIDを採番する。
type CreateInput struct {
	ID          string              `json:"id" validate:"omitempty,max=36"`
	Name        string              `json:"name" validate:"required,max=255"`
	Description string              `json:"description" validate:"max=20000"`
	Price       float64             `json:"price" validate:"gte=0,lte=9999999999.99,cents"`
	Category    string              `json:"category" validate:"max=255"`
	Stock       int                 `json:"stock" validate:"gte=0"`
	Status      model.ProductStatus `json:"status" validate:"omitempty,oneof=active inactive"`
	Images      []string            `json:"images" validate:"omitempty,dive,base64"`
	ImageURLs   []string            `json:"image_urls" validate:"omitempty,max=10,dive,url"`
}

// UpdateInput は商品の部分更新の入力値。nilのフィールドは変更しない。
// ImageURLsを指定した場合、取得した画像で画像リストを置き換える（Imagesがあればその後ろに追加）。
type UpdateInput struct {
	Name        *string              `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string              `json:"description" validate:"omitempty,max=20000"`
	Price       *float64             `json:"price" validate:"omitempty,gte=0,lte=9999999999.99,cents"`
	Category    *string              `json:"category" validate:"omitempty,max=255"`
	Stock       *int                 `json:"stock" validate:"omitempty,gte=0"`
	Status      *model.ProductStatus `json:"status" validate:"omitempty,oneof=active inactive"`
	Images      *[]string            `json:"images" validate:"omitempty,dive,base64"`
	ImageURLs   []string             `json:"image_urls" validate:"omitempty,max=10,dive,url"`
}

func (in UpdateInput) empty() bool {
	return in.Name == nil && in.Description == nil && in.Price == nil && in.Category == nil &&
		in.Stock == nil && in.Status == nil && in.Images == nil && len(in.ImageURLs) == 0
}

// maxPrice は price 列 NUMERIC(12, 2) に収まる上限。
const maxPrice = 9999999999.99

// newValidator はJSONフィールド名でエラーを報告するvalidatorを生成する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cents", validateCents)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError はvalidatorのエラーをINVALID_ARGUMENTに変換する。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInvalidArgumentError(err.Error())
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, describeFieldError(fe))
	}
	return model.NewInvalidArgumentError(strings.Join(reasons, "; "))
}

// validateCents は小数点以下2桁までの有限値だけを通す。
// 桁数は値を一意に表す最短の10進表記で数える。
func validateCents(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxPrice {
		return false
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	return dot < 0 || len(s)-dot-1 <= 2
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "cents":
		return fmt.Sprintf("%s must have at most 2 decimal places", field)
	case "min":
		return fmt.Sprintf("%s must not be empty", field)
	case "max":
		return fmt.Sprintf("%s exceeds maximum %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
