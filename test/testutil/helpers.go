package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// TestServer is an in-memory storefront backend for integration tests.
// Routes live under /api, the same layout as the real service.
type TestServer struct {
	*httptest.Server

	mu        sync.Mutex
	products  map[string]Product
	coupons   map[string]models.Coupon
	users     map[string]*testUser
	tokens    map[string]string // token -> customer id
	guests    map[string]*serverCart
	customers map[string]*serverCart
	orders    []models.OrderSummary
	requests  map[string]int

	transferSupported bool
	failures          map[string]*failure

	upgrader websocket.Upgrader
	wsMu     sync.Mutex
	watchers map[*websocket.Conn]struct{}
}

type failure struct {
	status    int
	remaining int
}

type testUser struct {
	id       string
	email    string
	password string
}

type serverCart struct {
	id         string
	sessionID  string
	customerID string
	items      []*serverItem
}

type serverItem struct {
	id         string
	productID  string
	name       string
	quantity   int
	price      decimal.Decimal
	attributes *models.ProductAttributes
}

// NewTestServer starts a storefront with the default catalog, coupons and
// customer from DefaultFixture.
func NewTestServer() *TestServer {
	ts := &TestServer{
		products:          make(map[string]Product),
		coupons:           make(map[string]models.Coupon),
		users:             make(map[string]*testUser),
		tokens:            make(map[string]string),
		guests:            make(map[string]*serverCart),
		customers:         make(map[string]*serverCart),
		requests:          make(map[string]int),
		failures:          make(map[string]*failure),
		watchers:          make(map[*websocket.Conn]struct{}),
		transferSupported: true,
	}

	fixture := DefaultFixture()
	for _, p := range fixture.Products {
		ts.products[p.ID] = p
	}
	for _, c := range fixture.Coupons {
		ts.coupons[c.Code] = c
	}
	ts.AddUser(fixture.Email, fixture.Password)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", ts.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", ts.handleLogout)
	mux.HandleFunc("POST /api/auth/refresh", ts.handleRefresh)
	mux.HandleFunc("GET /api/cart", ts.handleGetCart)
	mux.HandleFunc("POST /api/cart/add", ts.handleAdd)
	mux.HandleFunc("PATCH /api/cart/update", ts.handleUpdate)
	mux.HandleFunc("DELETE /api/cart/remove", ts.handleRemove)
	mux.HandleFunc("DELETE /api/cart/clear", ts.handleClear)
	mux.HandleFunc("POST /api/cart/transfer", ts.handleTransfer)
	mux.HandleFunc("GET /api/cart/events", ts.handleEvents)
	mux.HandleFunc("POST /api/coupons/check", ts.handleCouponCheck)
	mux.HandleFunc("POST /api/orders/preview-from-cart", ts.handlePreview)
	mux.HandleFunc("POST /api/orders/from-cart", ts.handleCreateOrder)

	ts.Server = httptest.NewServer(ts.count(mux))
	return ts
}

// APIURL is the base_url a client should use.
func (ts *TestServer) APIURL() string {
	return ts.URL + "/api"
}

// AddUser registers a customer and returns its id.
func (ts *TestServer) AddUser(email, password string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	u := &testUser{id: uuid.NewString(), email: email, password: password}
	ts.users[email] = u
	return u.id
}

// CustomerID returns the id of a registered customer.
func (ts *TestServer) CustomerID(email string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if u, ok := ts.users[email]; ok {
		return u.id
	}
	return ""
}

// SetTransferSupported makes /cart/transfer answer 404 when false.
func (ts *TestServer) SetTransferSupported(ok bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.transferSupported = ok
}

// FailNext makes the next n calls to method path answer status.
func (ts *TestServer) FailNext(method, path string, status, n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failures[method+" "+path] = &failure{status: status, remaining: n}
}

// RemoveCoupon withdraws a coupon, e.g. between check and order.
func (ts *TestServer) RemoveCoupon(code string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.coupons, code)
}

// Requests reports how many times method path was called.
func (ts *TestServer) Requests(method, path string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[method+" "+path]
}

// Orders returns the orders placed so far.
func (ts *TestServer) Orders() []models.OrderSummary {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]models.OrderSummary(nil), ts.orders...)
}

// GuestCartQuantity sums quantities in a guest session's cart.
func (ts *TestServer) GuestCartQuantity(sessionID string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.guests[sessionID].quantity()
}

// CustomerCartQuantity sums quantities in a customer's cart.
func (ts *TestServer) CustomerCartQuantity(customerID string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.customers[customerID].quantity()
}

// AddToCustomerCart changes a customer's cart outside the client and
// notifies watchers, as another device would.
func (ts *TestServer) AddToCustomerCart(customerID, productID string, qty int) {
	ts.mu.Lock()
	cart := ts.customerCart(customerID)
	ts.addItem(cart, productID, qty, nil)
	cartID := cart.id
	ts.mu.Unlock()

	ts.Broadcast(models.CartEvent{Type: models.CartEventUpdated, CartID: cartID})
}

// Broadcast sends an event to every connected watcher.
func (ts *TestServer) Broadcast(event models.CartEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, _ := json.Marshal(event)

	ts.wsMu.Lock()
	defer ts.wsMu.Unlock()
	for conn := range ts.watchers {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = conn.Close()
			delete(ts.watchers, conn)
		}
	}
}

// Watchers reports the number of connected event sockets.
func (ts *TestServer) Watchers() int {
	ts.wsMu.Lock()
	defer ts.wsMu.Unlock()
	return len(ts.watchers)
}

// Close disconnects watchers and stops the server.
func (ts *TestServer) Close() {
	ts.wsMu.Lock()
	for conn := range ts.watchers {
		_ = conn.Close()
	}
	ts.watchers = map[*websocket.Conn]struct{}{}
	ts.wsMu.Unlock()
	ts.Server.Close()
}

func (ts *TestServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api")
		key := r.Method + " " + path

		ts.mu.Lock()
		ts.requests[key]++
		status := 0
		if f, ok := ts.failures[key]; ok && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		ts.mu.Unlock()

		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (ts *TestServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	u, ok := ts.users[req.Email]
	if !ok || u.password != req.Password {
		ts.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token := uuid.NewString()
	ts.tokens[token] = u.id
	ts.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"token":     token,
			"expiresAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			"user": map[string]interface{}{
				"_id":   u.id,
				"email": u.email,
			},
		},
	})
}

func (ts *TestServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	delete(ts.tokens, bearer(r))
	ts.mu.Unlock()
	writeJSON(w, map[string]interface{}{"success": true})
}

func (ts *TestServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	customerID, ok := ts.tokens[bearer(r)]
	if !ok {
		ts.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	delete(ts.tokens, bearer(r))
	token := uuid.NewString()
	ts.tokens[token] = customerID
	ts.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"token":     token,
			"expiresAt": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		},
	})
}

// caller resolves the cart for a request. create allocates a guest session.
func (ts *TestServer) caller(r *http.Request, create bool) (*serverCart, bool) {
	if customerID, ok := ts.tokens[bearer(r)]; ok {
		return ts.customerCart(customerID), true
	}
	if sessionID := r.Header.Get("X-Session-ID"); sessionID != "" {
		if cart, ok := ts.guests[sessionID]; ok {
			return cart, true
		}
		if create {
			cart := &serverCart{id: uuid.NewString(), sessionID: sessionID}
			ts.guests[sessionID] = cart
			return cart, true
		}
		return nil, false
	}
	if !create {
		return nil, false
	}
	cart := &serverCart{id: uuid.NewString(), sessionID: uuid.NewString()}
	ts.guests[cart.sessionID] = cart
	return cart, true
}

func (ts *TestServer) customerCart(customerID string) *serverCart {
	cart, ok := ts.customers[customerID]
	if !ok {
		cart = &serverCart{id: uuid.NewString(), customerID: customerID}
		ts.customers[customerID] = cart
	}
	return cart
}

func (ts *TestServer) handleGetCart(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cart, ok := ts.caller(r, false)
	if !ok {
		writeJSON(w, map[string]interface{}{"success": true, "data": map[string]interface{}{"cart": nil}})
		return
	}
	writeCart(w, cart)
}

func (ts *TestServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req models.AddItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.products[req.ProductID]; !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}

	cart, _ := ts.caller(r, true)
	ts.addItem(cart, req.ProductID, qty, req.ProductAttributes)
	writeCart(w, cart)
}

func (ts *TestServer) addItem(cart *serverCart, productID string, qty int, attrs *models.ProductAttributes) {
	for _, it := range cart.items {
		if it.productID == productID && sameAttributes(it.attributes, attrs) {
			it.quantity += qty
			return
		}
	}
	cart.items = append(cart.items, &serverItem{
		id:         uuid.NewString(),
		productID:  productID,
		name:       ts.products[productID].Name,
		quantity:   qty,
		price:      ts.products[productID].Price,
		attributes: attrs,
	})
}

func (ts *TestServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	cart, ok := ts.caller(r, false)
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	for _, it := range cart.items {
		if it.id == req.ItemID {
			it.quantity = req.Quantity
			writeCart(w, cart)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Item not found in cart")
}

func (ts *TestServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req models.RemoveItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	cart, ok := ts.caller(r, false)
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	for i, it := range cart.items {
		if it.id == req.ItemID {
			cart.items = append(cart.items[:i], cart.items[i+1:]...)
			writeCart(w, cart)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Item not found in cart")
}

func (ts *TestServer) handleClear(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cart, ok := ts.caller(r, false)
	if !ok {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	cart.items = nil
	writeCart(w, cart)
}

func (ts *TestServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.transferSupported {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if customerID, ok := ts.tokens[bearer(r)]; !ok || customerID != req.CustomerID {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	target := ts.customerCart(req.CustomerID)
	if guest, ok := ts.guests[req.SessionID]; ok {
		for _, it := range guest.items {
			ts.addItem(target, it.productID, it.quantity, it.attributes)
		}
		delete(ts.guests, req.SessionID)
	}
	writeCart(w, target)
}

func (ts *TestServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.wsMu.Lock()
	ts.watchers[conn] = struct{}{}
	ts.wsMu.Unlock()

	// Drain client frames so pings and close are handled.
	go func() {
		defer func() {
			ts.wsMu.Lock()
			delete(ts.watchers, conn)
			ts.wsMu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (ts *TestServer) handleCouponCheck(w http.ResponseWriter, r *http.Request) {
	var req models.CouponCheckRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	coupon, ok := ts.coupons[req.Code]
	ts.mu.Unlock()

	if !ok {
		writeJSON(w, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"valid": false, "message": "Coupon not found or expired"},
		})
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"valid": true, "coupon": coupon},
	})
}

// price computes subtotal, discount and total for a cart.
func (ts *TestServer) price(cart *serverCart, code string, shipping, tax decimal.Decimal) (subtotal, discount, total decimal.Decimal, err error) {
	subtotal = cart.subtotal()
	discount = decimal.Zero
	if code != "" {
		coupon, ok := ts.coupons[code]
		if !ok {
			return subtotal, discount, total, fmt.Errorf("Coupon %s is no longer valid", code)
		}
		if coupon.MinimumOrderValue != nil && subtotal.LessThan(*coupon.MinimumOrderValue) {
			return subtotal, discount, total, fmt.Errorf("Coupon %s requires a minimum order of %s", code, coupon.MinimumOrderValue.StringFixed(2))
		}
		switch coupon.DiscountType {
		case "percentage":
			discount = subtotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
		default:
			discount = decimal.Min(coupon.DiscountValue, subtotal)
		}
	}
	total = subtotal.Sub(discount).Add(shipping).Add(tax)
	return subtotal, discount, total, nil
}

func (ts *TestServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req models.PreviewOrderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	cart, ok := ts.caller(r, false)
	if !ok || cart.id != req.CartID {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	subtotal, discount, total, err := ts.price(cart, req.CouponCode, req.ShippingCost, req.Tax)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"preview": map[string]interface{}{
				"subtotal":     subtotal,
				"shippingCost": req.ShippingCost,
				"tax":          req.Tax,
				"discount":     discount,
				"totalAmount":  total,
			},
		},
	})
}

func (ts *TestServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	customerID, ok := ts.tokens[bearer(r)]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Please log in to place an order")
		return
	}
	cart := ts.customerCart(customerID)
	if cart.id != req.CartID {
		writeError(w, http.StatusNotFound, "Cart not found")
		return
	}
	if len(cart.items) == 0 {
		writeError(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	_, _, total, err := ts.price(cart, req.CouponCode, req.ShippingCost, decimal.Zero)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order := models.OrderSummary{
		ID:          uuid.NewString(),
		OrderNumber: fmt.Sprintf("ORD-%04d", len(ts.orders)+1),
		Status:      "pending",
		Total:       total,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	ts.orders = append(ts.orders, order)
	cart.items = nil

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"order": map[string]interface{}{
				"_id":         order.ID,
				"orderNumber": order.OrderNumber,
				"status":      order.Status,
				"totalAmount": order.Total,
				"createdAt":   order.CreatedAt.Format(time.RFC3339),
			},
		},
	})
}

func (c *serverCart) quantity() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, it := range c.items {
		n += it.quantity
	}
	return n
}

func (c *serverCart) subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.price.Mul(decimal.NewFromInt(int64(it.quantity))))
	}
	return total
}

func writeCart(w http.ResponseWriter, cart *serverCart) {
	items := make([]map[string]interface{}, 0, len(cart.items))
	for _, it := range cart.items {
		item := map[string]interface{}{
			"_id":       it.id,
			"productId": it.productID,
			"name":      it.name,
			"quantity":  it.quantity,
			"price":     it.price,
		}
		if it.attributes != nil {
			item["productAttributes"] = it.attributes
		}
		items = append(items, item)
	}

	body := map[string]interface{}{
		"_id":   cart.id,
		"items": items,
	}
	if cart.sessionID != "" {
		body["sessionId"] = cart.sessionID
	}
	if cart.customerID != "" {
		body["customerId"] = cart.customerID
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"cart": body},
	})
}

func sameAttributes(a, b *models.ProductAttributes) bool {
	return models.SameVariant(a.ToVariant(), b.ToVariant())
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// WaitForCondition waits for condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}
