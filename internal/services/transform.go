package services

import (
	"fmt"
	"strconv"
	"strings"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/models"
)

var currencyReplacer = strings.NewReplacer("$", "", "€", "", "£", "", "₹", "", ",", "", " ", "")

// StripCurrency removes currency symbols, thousands separators and spaces
func StripCurrency(value string) string {
	return currencyReplacer.Replace(value)
}

// SplitList splits a list cell on commas, semicolons or pipes
func SplitList(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// ApplyTransformations rewrites a raw value through the mapping directives in order
func ApplyTransformations(value string, transforms []models.Transformation) string {
	for _, t := range transforms {
		switch t {
		case models.TransformTrim:
			value = strings.TrimSpace(value)
		case models.TransformLowercase:
			value = strings.ToLower(value)
		case models.TransformUppercase:
			value = strings.ToUpper(value)
		case models.TransformStripCurrency:
			value = StripCurrency(value)
		case models.TransformSplitList:
			value = strings.Join(SplitList(value), ",")
		}
	}
	return value
}

// MapRecord projects a source record onto target fields. Sources without a
// value produce an empty string.
func MapRecord(record models.RawRecord, mappings []models.FieldMapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.TargetField == "" {
			continue
		}
		out[m.TargetField] = ApplyTransformations(record.Values[m.SourceField], m.Transformations)
	}
	return out
}

// BuildCatalogProduct converts mapped target values to a bulk create item.
// Values are expected to have passed validation; conversion errors are
// reported as row failures by the importer.
func BuildCatalogProduct(values map[string]string, externalID string) (clients.CatalogProduct, error) {
	product := clients.CatalogProduct{
		Name:       strings.TrimSpace(values["name"]),
		SKU:        strings.TrimSpace(values["sku"]),
		Price:      strings.TrimSpace(values["price"]),
		VendorID:   strings.TrimSpace(values["vendorId"]),
		CategoryID: strings.TrimSpace(values["categoryId"]),
		ExternalID: &externalID,
	}

	product.Description = optionalString(values["description"])
	product.ComparePrice = optionalString(values["comparePrice"])
	product.CostPrice = optionalString(values["costPrice"])
	product.VendorName = optionalString(values["vendorName"])
	product.CategoryName = optionalString(values["categoryName"])
	product.WarehouseName = optionalString(values["warehouseName"])
	product.SupplierName = optionalString(values["supplierName"])
	product.Brand = optionalString(values["brand"])
	product.Weight = optionalString(values["weight"])
	product.SearchKeywords = optionalString(values["searchKeywords"])
	product.CurrencyCode = optionalString(values["currencyCode"])
	product.Status = optionalString(values["status"])

	if tags := strings.TrimSpace(values["tags"]); tags != "" {
		product.Tags = SplitList(tags)
	}

	var err error
	if product.Quantity, err = optionalInt(values, "quantity"); err != nil {
		return product, err
	}
	if product.MinOrderQty, err = optionalInt(values, "minOrderQty"); err != nil {
		return product, err
	}
	if product.MaxOrderQty, err = optionalInt(values, "maxOrderQty"); err != nil {
		return product, err
	}
	if product.LowStockThreshold, err = optionalInt(values, "lowStockThreshold"); err != nil {
		return product, err
	}

	for _, decimal := range []*string{&product.Price, product.ComparePrice, product.CostPrice, product.Weight} {
		if decimal == nil || *decimal == "" {
			continue
		}
		if _, err := strconv.ParseFloat(*decimal, 64); err != nil {
			return product, fmt.Errorf("invalid decimal %q", *decimal)
		}
	}

	if product.Name == "" || product.SKU == "" || product.Price == "" {
		return product, fmt.Errorf("name, sku and price are required")
	}

	return product, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func optionalInt(values map[string]string, field string) (*int, error) {
	raw := strings.TrimSpace(values[field])
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q for %s", raw, field)
	}
	return &n, nil
}
