package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	catalog  *service.CatalogService
	users    *service.UserService
	verify   *service.VerifyService
	oauth    *service.OAuthService
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	carts *service.CartService,
	checkout *service.CheckoutService,
	catalog *service.CatalogService,
	users *service.UserService,
	verify *service.VerifyService,
	oauth *service.OAuthService,
) *Handler {
	return &Handler{
		carts:    carts,
		checkout: checkout,
		catalog:  catalog,
		users:    users,
		verify:   verify,
		oauth:    oauth,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(authMiddleware(h.verify))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/users", h.register)
		v1.GET("/usernames/:username/count", h.usernameCount)
		v1.GET("/mobiles/:mobile/count", h.mobileCount)
		v1.POST("/authorizations", h.login)
		v1.GET("/accounts/:account/sms/token", h.smsToken)
		v1.GET("/accounts/:account/password/token", h.passwordToken)
		v1.GET("/sms_codes", h.sendSMSCode)
		v1.GET("/emails/verification", h.verifyEmail)

		v1.GET("/oauth/qq/authorization", h.oauthURL)
		v1.GET("/oauth/qq/user", h.oauthCallback)
		v1.POST("/oauth/qq/user", h.oauthBind)

		v1.GET("/skus/:id", h.skuDetail)
		v1.GET("/categories/:id/hotskus", h.hotSKUs)

		v1.GET("/cart", h.listCart)
		v1.POST("/cart", h.addToCart)
		v1.PUT("/cart", h.updateCart)
		v1.DELETE("/cart", h.removeFromCart)

		authed := v1.Group("", requireUser)
		{
			authed.GET("/user", h.userDetail)
			authed.PUT("/user/email", h.setEmail)
			authed.PUT("/users/:id/password", h.resetPassword)

			authed.GET("/addresses", h.listAddresses)
			authed.POST("/addresses", h.createAddress)
			authed.PUT("/addresses/:id", h.updateAddress)
			authed.DELETE("/addresses/:id", h.deleteAddress)
			authed.PUT("/addresses/:id/status", h.setDefaultAddress)
			authed.PUT("/addresses/:id/title", h.setAddressTitle)

			authed.POST("/browse_histories", h.addHistory)
			authed.GET("/browse_histories", h.browseHistory)

			authed.GET("/orders", h.listOrders)
			authed.GET("/orders/settlement", h.settlementPreview)
			authed.POST("/orders", h.createOrder)
			authed.GET("/orders/:id", h.getOrder)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// cartStore picks the backing for this request: Redis for authenticated
// owners, the request cookie for guests. finish writes the guest blob
// back onto the response and is a no-op for users.
func (h *Handler) cartStore(c *gin.Context) (cart.Store, func(), string) {
	if userID, ok := currentUserID(c); ok {
		return h.carts.RedisCarts().ForUser(userID), func() {}, "redis"
	}

	blob, _ := c.Cookie(cart.CookieName)
	cs, err := cart.NewCookieStore(blob)
	if err != nil {
		h.logger.Warn("Dropping malformed cart cookie", zap.Error(err))
		cs, _ = cart.NewCookieStore("")
	}
	finish := func() {
		encoded, err := cs.Blob()
		if err != nil {
			h.logger.Error("Failed to encode cart cookie", zap.Error(err))
			return
		}
		c.SetCookie(cart.CookieName, encoded, cart.CookieMaxAge, "/", "", false, true)
	}
	return cs, finish, "cookie"
}

type cartRequest struct {
	SKUID    int64 `json:"sku_id" binding:"required,min=1"`
	Count    int   `json:"count" binding:"required,min=1"`
	Selected *bool `json:"selected"`
}

func (r *cartRequest) entry() cart.Entry {
	selected := true
	if r.Selected != nil {
		selected = *r.Selected
	}
	return cart.Entry{SKUID: r.SKUID, Quantity: r.Count, Selected: selected}
}

func (h *Handler) listCart(c *gin.Context) {
	st, _, backing := h.cartStore(c)
	lines, err := h.carts.List(c.Request.Context(), st)
	if err != nil {
		writeError(c, err)
		return
	}
	util.CartOperationsTotal.WithLabelValues("list", backing).Inc()
	c.JSON(http.StatusOK, gin.H{"cart": lines})
}

func (h *Handler) addToCart(c *gin.Context) {
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	st, finish, backing := h.cartStore(c)
	if err := h.carts.Add(c.Request.Context(), st, req.entry()); err != nil {
		writeError(c, err)
		return
	}
	finish()
	util.CartOperationsTotal.WithLabelValues("add", backing).Inc()
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) updateCart(c *gin.Context) {
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	st, finish, backing := h.cartStore(c)
	if err := h.carts.Set(c.Request.Context(), st, req.entry()); err != nil {
		writeError(c, err)
		return
	}
	finish()
	util.CartOperationsTotal.WithLabelValues("set", backing).Inc()
	c.JSON(http.StatusOK, req)
}

func (h *Handler) removeFromCart(c *gin.Context) {
	var req struct {
		SKUID int64 `json:"sku_id" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	st, finish, backing := h.cartStore(c)
	if err := h.carts.Remove(c.Request.Context(), st, req.SKUID); err != nil {
		writeError(c, err)
		return
	}
	finish()
	util.CartOperationsTotal.WithLabelValues("remove", backing).Inc()
	c.Status(http.StatusNoContent)
}

// mergeGuestCart folds the guest cookie cart into the freshly logged-in
// user's server-side cart and clears the cookie. Failures are logged and
// swallowed: a cart glitch must not fail a login.
func (h *Handler) mergeGuestCart(c *gin.Context, userID int64) {
	blob, err := c.Cookie(cart.CookieName)
	if err != nil || blob == "" {
		return
	}

	entries, err := cart.DecodeBlob(blob)
	if err == nil {
		err = h.carts.MergeGuest(c.Request.Context(), userID, entries)
	}
	if err != nil {
		util.CartMergeFailuresTotal.Inc()
		h.logger.Error("Guest cart merge failed",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return
	}
	c.SetCookie(cart.CookieName, "", -1, "/", "", false, true)
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Mobile   string `json:"mobile" binding:"required"`
		Password string `json:"password" binding:"required"`
		SMSCode  string `json:"sms_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, token, err := h.users.Register(c.Request.Context(), req.Username, req.Mobile, req.Password, req.SMSCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	user, token, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	h.mergeGuestCart(c, user.ID)
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "username": user.Username, "token": token})
}

func (h *Handler) usernameCount(c *gin.Context) {
	username := c.Param("username")
	count, err := h.users.UsernameCount(c.Request.Context(), username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "count": count})
}

func (h *Handler) mobileCount(c *gin.Context) {
	mobile := c.Param("mobile")
	count, err := h.users.MobileCount(c.Request.Context(), mobile)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mobile": mobile, "count": count})
}

func (h *Handler) smsToken(c *gin.Context) {
	masked, token, err := h.users.RequestSMSToken(c.Request.Context(), c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mobile": masked, "access_token": token})
}

func (h *Handler) passwordToken(c *gin.Context) {
	userID, token, err := h.users.RequestPasswordToken(c.Request.Context(), c.Param("account"), c.Query("sms_code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "access_token": token})
}

// sendSMSCode issues a verification code for the mobile named by a
// send-code token.
func (h *Handler) sendSMSCode(c *gin.Context) {
	accessToken := c.Query("access_token")
	if accessToken == "" {
		writeError(c, &models.ValidationError{Reason: "access_token required"})
		return
	}
	mobile, err := h.verify.CheckSMSToken(accessToken)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.verify.SendSMSCode(c.Request.Context(), mobile); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (h *Handler) verifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		writeError(c, &models.ValidationError{Reason: "token required"})
		return
	}
	if err := h.users.VerifyEmail(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (h *Handler) userDetail(c *gin.Context) {
	userID, _ := currentUserID(c)
	user, err := h.users.Detail(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) setEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	if err := h.users.SetEmail(c.Request.Context(), userID, req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": req.Email})
}

func (h *Handler) resetPassword(c *gin.Context) {
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid user id"})
		return
	}
	userID, _ := currentUserID(c)
	if targetID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
		Password    string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if err := h.users.ResetPassword(c.Request.Context(), userID, req.AccessToken, req.Password); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

type addressRequest struct {
	Title    string `json:"title"`
	Receiver string `json:"receiver" binding:"required"`
	Province string `json:"province" binding:"required"`
	City     string `json:"city" binding:"required"`
	District string `json:"district" binding:"required"`
	Place    string `json:"place" binding:"required"`
	Mobile   string `json:"mobile" binding:"required"`
	Tel      string `json:"tel"`
	Email    string `json:"email"`
}

func (r *addressRequest) model(userID int64) *models.Address {
	return &models.Address{
		UserID:   userID,
		Title:    r.Title,
		Receiver: r.Receiver,
		Province: r.Province,
		City:     r.City,
		District: r.District,
		Place:    r.Place,
		Mobile:   r.Mobile,
		Tel:      r.Tel,
		Email:    r.Email,
	}
}

func (h *Handler) listAddresses(c *gin.Context) {
	userID, _ := currentUserID(c)
	book, err := h.users.ListAddresses(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) createAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	addr := req.model(userID)
	if err := h.users.CreateAddress(c.Request.Context(), addr); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, addr)
}

func (h *Handler) updateAddress(c *gin.Context) {
	addressID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid address id"})
		return
	}

	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	addr := req.model(userID)
	addr.ID = addressID
	if err := h.users.UpdateAddress(c.Request.Context(), addr); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, addr)
}

func (h *Handler) deleteAddress(c *gin.Context) {
	addressID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid address id"})
		return
	}

	userID, _ := currentUserID(c)
	if err := h.users.DeleteAddress(c.Request.Context(), addressID, userID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	addressID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid address id"})
		return
	}

	userID, _ := currentUserID(c)
	if err := h.users.SetDefaultAddress(c.Request.Context(), userID, addressID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (h *Handler) setAddressTitle(c *gin.Context) {
	addressID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid address id"})
		return
	}

	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	if err := h.users.SetAddressTitle(c.Request.Context(), addressID, userID, req.Title); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": req.Title})
}

func (h *Handler) addHistory(c *gin.Context) {
	var req struct {
		SKUID int64 `json:"sku_id" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	if err := h.catalog.AddHistory(c.Request.Context(), userID, req.SKUID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) browseHistory(c *gin.Context) {
	userID, _ := currentUserID(c)
	skus, err := h.catalog.History(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, skus)
}

func (h *Handler) skuDetail(c *gin.Context) {
	skuID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid sku id"})
		return
	}
	sku, err := h.catalog.SKU(c.Request.Context(), skuID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sku)
}

func (h *Handler) hotSKUs(c *gin.Context) {
	categoryID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, &models.ValidationError{Reason: "invalid category id"})
		return
	}
	skus, err := h.catalog.HotSKUs(c.Request.Context(), categoryID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, skus)
}

func (h *Handler) settlementPreview(c *gin.Context) {
	userID, _ := currentUserID(c)
	preview, err := h.checkout.PreviewOrder(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) createOrder(c *gin.Context) {
	var req struct {
		AddressID int64 `json:"address" binding:"required,min=1"`
		PayMethod int   `json:"pay_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	userID, _ := currentUserID(c)
	order, err := h.checkout.Create(c.Request.Context(), userID, req.AddressID, req.PayMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	userID, _ := currentUserID(c)
	order, lines, err := h.checkout.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines})
}

func (h *Handler) listOrders(c *gin.Context) {
	userID, _ := currentUserID(c)
	orders, err := h.checkout.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) oauthURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"auth_url": h.oauth.LoginURL(c.Query("state"))})
}

func (h *Handler) oauthCallback(c *gin.Context) {
	result, err := h.oauth.Callback(c.Request.Context(), c.Query("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	if result.User != nil {
		h.mergeGuestCart(c, result.User.ID)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) oauthBind(c *gin.Context) {
	var req struct {
		BindToken string `json:"bind_token" binding:"required"`
		Mobile    string `json:"mobile" binding:"required"`
		SMSCode   string `json:"sms_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.oauth.Bind(c.Request.Context(), req.BindToken, req.Mobile, req.SMSCode)
	if err != nil {
		writeError(c, err)
		return
	}
	h.mergeGuestCart(c, result.User.ID)
	c.JSON(http.StatusCreated, result)
}
