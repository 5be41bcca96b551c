package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

var (
	phonePattern  = regexp.MustCompile(`^[0-9+()\-\s.]{7,20}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3}$`)
	cardSeparator = strings.NewReplacer(" ", "", "-", "")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register phone validation: %v", err))
	}

	return v
}

var reasons = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"phone":    "must be a valid phone number",
}

// NormalizeShipping обрезает пробелы по краям всех полей адреса.
func NormalizeShipping(s model.ShippingInfo) model.ShippingInfo {
	return model.ShippingInfo{
		FullName: strings.TrimSpace(s.FullName),
		Email:    strings.TrimSpace(s.Email),
		Phone:    strings.TrimSpace(s.Phone),
		Address:  strings.TrimSpace(s.Address),
		City:     strings.TrimSpace(s.City),
		State:    strings.TrimSpace(s.State),
		ZipCode:  strings.TrimSpace(s.ZipCode),
		Country:  strings.TrimSpace(s.Country),
	}
}

// ValidateShipping проверяет адрес доставки и возвращает *apperr.ValidationError
// для первого некорректного поля.
func ValidateShipping(s model.ShippingInfo) error {
	err := validate.Struct(NormalizeShipping(s))
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason, ok := reasons[fe.Tag()]
		if !ok {
			reason = "is invalid"
		}
		return apperr.NewValidationError("shippingInfo."+fe.Field(), reason)
	}

	return fmt.Errorf("validate shipping: %w", err)
}

// Ограничения позиции корзины.
var (
	MaxQuantity  = 10000
	MaxUnitPrice = decimal.NewFromInt(10_000_000)
)

// ValidateItems проверяет позиции корзины. Для пустой корзины возвращает apperr.ErrEmptyCart.
func ValidateItems(items []model.CartLine) error {
	if len(items) == 0 {
		return apperr.ErrEmptyCart
	}

	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.NewValidationError(fmt.Sprintf("items[%d].productId", i), "is required")
		}
		if it.Quantity < 1 || it.Quantity > MaxQuantity {
			return apperr.NewValidationError(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be between 1 and %d", MaxQuantity))
		}
		if it.UnitPrice.IsNegative() {
			return apperr.NewValidationError(fmt.Sprintf("items[%d].unitPrice", i), "must not be negative")
		}
		if it.UnitPrice.GreaterThan(MaxUnitPrice) {
			return apperr.NewValidationError(fmt.Sprintf("items[%d].unitPrice", i), "must not exceed "+MaxUnitPrice.String())
		}
	}

	return nil
}

// NormalizeCardNumber удаляет пробелы и дефисы из номера карты.
func NormalizeCardNumber(number string) string {
	return cardSeparator.Replace(strings.TrimSpace(number))
}

// ValidateCard проверяет реквизиты карты: 16 цифр с корректной контрольной суммой,
// имя держателя не короче 3 символов, срок действия MM/YY и CVV из 3 цифр.
func ValidateCard(card *model.CardInput) error {
	if card == nil {
		return apperr.NewValidationError("card", "is required for card payments")
	}

	number := NormalizeCardNumber(card.Number)
	if len(number) != 16 || !IsValidLuhn(number) {
		return apperr.NewValidationError("card.cardNumber", "must be a valid 16-digit card number")
	}

	if utf8.RuneCountInString(strings.TrimSpace(card.HolderName)) < 3 {
		return apperr.NewValidationError("card.cardHolder", "must be at least 3 characters")
	}

	if !expiryPattern.MatchString(strings.TrimSpace(card.Expiry)) {
		return apperr.NewValidationError("card.expiry", "must match MM/YY")
	}

	if !cvvPattern.MatchString(card.CVV) {
		return apperr.NewValidationError("card.cvv", "must be 3 digits")
	}

	return nil
}
