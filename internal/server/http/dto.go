package httpserver

import (
	"time"

	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/money"
	"github.com/and161185/apinlero/internal/service"
)

// Amounts cross the wire as decimal strings with two places.

type userDTO struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Phone       string     `json:"phone,omitempty"`
	Role        model.Role `json:"role"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toUser(u *model.User) userDTO {
	return userDTO{
		ID:          u.ID.String(),
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		Role:        u.Role,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type tokensDTO struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func toTokens(t model.Tokens) tokensDTO {
	return tokensDTO{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        t.ExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

type categoryDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toCategory(c *model.Category) categoryDTO {
	return categoryDTO{
		ID:          c.ID.String(),
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		IsActive:    c.IsActive,
		SortOrder:   c.SortOrder,
		CreatedAt:   c.CreatedAt,
	}
}

type productDTO struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       string    `json:"price"`
	Unit        string    `json:"unit"`
	MinOrder    int       `json:"minOrder"`
	Stock       int       `json:"stock"`
	InStock     bool      `json:"inStock"`
	IsActive    bool      `json:"isActive"`
	IsFeatured  bool      `json:"isFeatured"`
	CategoryID  *string   `json:"categoryId,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProduct(p *model.Product) productDTO {
	out := productDTO{
		ID:          p.ID.String(),
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		Price:       money.Format(p.Price),
		Unit:        p.Unit,
		MinOrder:    p.MinOrder,
		Stock:       p.Stock,
		InStock:     p.Stock > 0,
		IsActive:    p.IsActive,
		IsFeatured:  p.IsFeatured,
		ImageURL:    p.ImageURL,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.CategoryID != nil {
		id := p.CategoryID.String()
		out.CategoryID = &id
	}
	return out
}

type cartLineDTO struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Unit      string `json:"unit,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
	Stock     int    `json:"stock"`
	MinOrder  int    `json:"minOrder"`
	Available bool   `json:"available"`
}

type cartDTO struct {
	ID        string        `json:"id"`
	Items     []cartLineDTO `json:"items"`
	Subtotal  string        `json:"subtotal"`
	ItemCount int           `json:"itemCount"`
}

func toCart(v *service.CartView) cartDTO {
	out := cartDTO{
		ID:        v.ID.String(),
		Items:     make([]cartLineDTO, 0, len(v.Lines)),
		Subtotal:  money.Format(v.Subtotal),
		ItemCount: v.ItemCount,
	}
	for _, l := range v.Lines {
		out.Items = append(out.Items, cartLineDTO{
			ProductID: l.ProductID.String(),
			Name:      l.Name,
			SKU:       l.SKU,
			Unit:      l.Unit,
			ImageURL:  l.ImageURL,
			UnitPrice: money.Format(l.UnitPrice),
			Quantity:  l.Quantity,
			LineTotal: money.Format(l.LineTotal),
			Stock:     l.Stock,
			MinOrder:  l.MinOrder,
			Available: l.Available,
		})
	}
	return out
}

type addressDTO struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Line1     string    `json:"line1"`
	Line2     string    `json:"line2,omitempty"`
	City      string    `json:"city"`
	Region    string    `json:"region,omitempty"`
	Postcode  string    `json:"postcode"`
	Phone     string    `json:"phone,omitempty"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAddress(a *model.Address) addressDTO {
	return addressDTO{
		ID:        a.ID.String(),
		Label:     a.Label,
		Line1:     a.Line1,
		Line2:     a.Line2,
		City:      a.City,
		Region:    a.Region,
		Postcode:  a.Postcode,
		Phone:     a.Phone,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
	}
}

type orderItemDTO struct {
	ProductID string `json:"productId,omitempty"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Total     string `json:"total"`
}

type orderDTO struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	UserID        string              `json:"userId"`
	AddressID     string              `json:"addressId"`
	Status        model.OrderStatus   `json:"status"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	Subtotal      string              `json:"subtotal"`
	DeliveryFee   string              `json:"deliveryFee"`
	Total         string              `json:"total"`
	Notes         string              `json:"notes,omitempty"`
	Items         []orderItemDTO      `json:"items"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	DeliveredAt   *time.Time          `json:"deliveredAt,omitempty"`
	CancelledAt   *time.Time          `json:"cancelledAt,omitempty"`
}

func toOrder(o *model.Order) orderDTO {
	out := orderDTO{
		ID:            o.ID.String(),
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID.String(),
		AddressID:     o.AddressID.String(),
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      money.Format(o.Subtotal),
		DeliveryFee:   money.Format(o.DeliveryFee),
		Total:         money.Format(o.Total),
		Notes:         o.Notes,
		Items:         make([]orderItemDTO, 0, len(o.Items)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		DeliveredAt:   o.DeliveredAt,
		CancelledAt:   o.CancelledAt,
	}
	for _, it := range o.Items {
		item := orderItemDTO{
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: money.Format(it.UnitPrice),
			Quantity:  it.Quantity,
			Total:     money.Format(it.Total),
		}
		if !it.ProductID.IsNil() {
			item.ProductID = it.ProductID.String()
		}
		out.Items = append(out.Items, item)
	}
	return out
}

type trackingDTO struct {
	Status      model.OrderStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func toTracking(entries []model.TrackingEntry) []trackingDTO {
	out := make([]trackingDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, trackingDTO{Status: e.Status, Description: e.Description, Location: e.Location, CreatedAt: e.CreatedAt})
	}
	return out
}

type paymentDTO struct {
	ID            string              `json:"id"`
	Amount        string              `json:"amount"`
	Currency      string              `json:"currency"`
	Method        model.PaymentMethod `json:"method"`
	Status        model.PaymentStatus `json:"status"`
	ProviderRef   string              `json:"providerRef,omitempty"`
	FailureReason string              `json:"failureReason,omitempty"`
	PaidAt        *time.Time          `json:"paidAt,omitempty"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type paymentStatusDTO struct {
	OrderID       string              `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
	Payment       *paymentDTO         `json:"payment,omitempty"`
}

func toPaymentStatus(v *service.PaymentStatusView) paymentStatusDTO {
	out := paymentStatusDTO{
		OrderID:       v.OrderID.String(),
		OrderNumber:   v.OrderNumber,
		PaymentStatus: v.PaymentStatus,
	}
	if p := v.Payment; p != nil {
		out.Payment = &paymentDTO{
			ID:            p.ID.String(),
			Amount:        money.Format(p.Amount),
			Currency:      p.Currency,
			Method:        p.Method,
			Status:        p.Status,
			ProviderRef:   p.ProviderRef,
			FailureReason: p.FailureReason,
			PaidAt:        p.PaidAt,
			UpdatedAt:     p.UpdatedAt,
		}
	}
	return out
}
