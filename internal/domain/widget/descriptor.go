package widget

import (
	"fmt"
	"net/url"
	"strconv"
)

// ProductInfo is read-only descriptive data for the product being tried on.
// Never mutated after creation.
type ProductInfo struct {
	Image         string `json:"image"`
	Name          string `json:"name,omitempty"`
	ID            string `json:"id,omitempty"`
	Category      string `json:"category,omitempty"`
	Price         string `json:"price,omitempty"`
	Currency      string `json:"currency,omitempty"`
	URL           string `json:"url,omitempty"`
	Specification string `json:"specification,omitempty"`
	Description   string `json:"description,omitempty"`
}

// UserInfo optionally identifies the shopper and a ready-made photo.
type UserInfo struct {
	ID    string `json:"id,omitempty"`
	Image string `json:"image,omitempty"`
}

// SessionOptions control photo acquisition behavior for one widget session.
type SessionOptions struct {
	SkipPhotoStep bool   `json:"skipPhotoStep"`
	AllowCamera   bool   `json:"allowCamera"`
	AllowUpload   bool   `json:"allowUpload"`
	CallbackURL   string `json:"callbackUrl,omitempty"`
}

// SessionDescriptor is built once per open() call and is immutable for that
// session's lifetime. The host loader serializes it into embed URL query
// parameters; the embedded controller reconstructs a serialization-equal copy
// from those parameters.
type SessionDescriptor struct {
	MerchantKey string         `json:"merchantKey"`
	Product     ProductInfo    `json:"product"`
	User        *UserInfo      `json:"user,omitempty"`
	ModelImage  string         `json:"modelImage,omitempty"`
	Options     SessionOptions `json:"options"`
	Theme       string         `json:"theme,omitempty"`
	Locale      string         `json:"locale,omitempty"`
}

// DefaultOptions returns the option set applied before caller overrides.
func DefaultOptions() SessionOptions {
	return SessionOptions{AllowCamera: true, AllowUpload: true}
}

// QueryValues serializes the descriptor into embed URL query parameters.
// Empty fields are omitted so URLs stay short.
func (d *SessionDescriptor) QueryValues() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("merchantKey", d.MerchantKey)
	set("productImage", d.Product.Image)
	set("productName", d.Product.Name)
	set("productId", d.Product.ID)
	set("productCategory", d.Product.Category)
	set("productPrice", d.Product.Price)
	set("productCurrency", d.Product.Currency)
	set("productUrl", d.Product.URL)
	set("productSpecification", d.Product.Specification)
	set("productDescription", d.Product.Description)
	if d.User != nil {
		set("userImage", d.User.Image)
		set("userId", d.User.ID)
	}
	set("modelImage", d.ModelImage)
	set("theme", d.Theme)
	set("locale", d.Locale)
	v.Set("skipPhotoStep", strconv.FormatBool(d.Options.SkipPhotoStep))
	v.Set("allowCamera", strconv.FormatBool(d.Options.AllowCamera))
	v.Set("allowUpload", strconv.FormatBool(d.Options.AllowUpload))
	set("callbackUrl", d.Options.CallbackURL)
	return v
}

// DescriptorFromQuery reconstructs a descriptor from embed URL parameters.
// The result is serialization-equal to the host loader's copy, never the same
// object.
func DescriptorFromQuery(v url.Values) *SessionDescriptor {
	d := &SessionDescriptor{
		MerchantKey: v.Get("merchantKey"),
		Product: ProductInfo{
			Image:         v.Get("productImage"),
			Name:          v.Get("productName"),
			ID:            v.Get("productId"),
			Category:      v.Get("productCategory"),
			Price:         v.Get("productPrice"),
			Currency:      v.Get("productCurrency"),
			URL:           v.Get("productUrl"),
			Specification: v.Get("productSpecification"),
			Description:   v.Get("productDescription"),
		},
		ModelImage: v.Get("modelImage"),
		Theme:      v.Get("theme"),
		Locale:     v.Get("locale"),
		Options:    DefaultOptions(),
	}
	if userImage, userID := v.Get("userImage"), v.Get("userId"); userImage != "" || userID != "" {
		d.User = &UserInfo{ID: userID, Image: userImage}
	}
	if raw := v.Get("skipPhotoStep"); raw != "" {
		d.Options.SkipPhotoStep, _ = strconv.ParseBool(raw)
	}
	if raw := v.Get("allowCamera"); raw != "" {
		d.Options.AllowCamera, _ = strconv.ParseBool(raw)
	}
	if raw := v.Get("allowUpload"); raw != "" {
		d.Options.AllowUpload, _ = strconv.ParseBool(raw)
	}
	d.Options.CallbackURL = v.Get("callbackUrl")
	return d
}

// embedAttrSchema is the single source of truth for declarative button
// attributes. Every data-* attribute runs through one parser instead of ad hoc
// string coercions.
var embedAttrSchema = map[string]func(*SessionDescriptor, string) error{
	"data-merchant-key":          func(d *SessionDescriptor, v string) error { d.MerchantKey = v; return nil },
	"data-product-image":         func(d *SessionDescriptor, v string) error { d.Product.Image = v; return nil },
	"data-product-name":          func(d *SessionDescriptor, v string) error { d.Product.Name = v; return nil },
	"data-product-id":            func(d *SessionDescriptor, v string) error { d.Product.ID = v; return nil },
	"data-product-category":      func(d *SessionDescriptor, v string) error { d.Product.Category = v; return nil },
	"data-product-price":         func(d *SessionDescriptor, v string) error { d.Product.Price = v; return nil },
	"data-product-currency":      func(d *SessionDescriptor, v string) error { d.Product.Currency = v; return nil },
	"data-product-url":           func(d *SessionDescriptor, v string) error { d.Product.URL = v; return nil },
	"data-product-specification": func(d *SessionDescriptor, v string) error { d.Product.Specification = v; return nil },
	"data-product-description":   func(d *SessionDescriptor, v string) error { d.Product.Description = v; return nil },
	"data-theme": func(d *SessionDescriptor, v string) error {
		switch v {
		case "light", "dark", "auto":
			d.Theme = v
			return nil
		}
		return fmt.Errorf("invalid theme %q", v)
	},
	"data-locale":          func(d *SessionDescriptor, v string) error { d.Locale = v; return nil },
	"data-skip-photo-step": boolAttr(func(d *SessionDescriptor, b bool) { d.Options.SkipPhotoStep = b }),
	"data-allow-camera":    boolAttr(func(d *SessionDescriptor, b bool) { d.Options.AllowCamera = b }),
	"data-allow-upload":    boolAttr(func(d *SessionDescriptor, b bool) { d.Options.AllowUpload = b }),
}

func boolAttr(apply func(*SessionDescriptor, bool)) func(*SessionDescriptor, string) error {
	return func(d *SessionDescriptor, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean attribute value %q", v)
		}
		apply(d, b)
		return nil
	}
}

// ParseEmbedAttributes builds a descriptor from declarative button attributes.
// Unknown attributes are ignored; invalid values for known attributes are
// reported so the merchant can fix their markup.
func ParseEmbedAttributes(attrs map[string]string) (*SessionDescriptor, error) {
	d := &SessionDescriptor{Options: DefaultOptions()}
	for key, val := range attrs {
		parse, known := embedAttrSchema[key]
		if !known {
			continue
		}
		if err := parse(d, val); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
	}
	return d, nil
}
