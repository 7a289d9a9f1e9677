package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPaystackInitialize(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("authorization: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/xyz","reference":"r1"}}`))
	}))
	defer srv.Close()

	c := NewPaystackClient(srv.URL, "sk_test", time.Second)
	u, err := c.Initialize(context.Background(), InitializeRequest{Amount: 340000, Email: "a@b.co", OrderID: 7, CallbackURL: "https://x/cb"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if u != "https://checkout.paystack.com/xyz" {
		t.Errorf("url: %q", u)
	}
	if got["amount"] != float64(340000) || got["email"] != "a@b.co" || got["order_id"] != float64(7) || got["callback_url"] != "https://x/cb" {
		t.Errorf("body: %v", got)
	}
	meta, _ := got["metadata"].(map[string]interface{})
	if meta["order_id"] != float64(7) {
		t.Errorf("metadata: %v", got["metadata"])
	}
}

func TestPaystackInitializeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := NewPaystackClient(srv.URL, "bad", time.Second).Initialize(context.Background(), InitializeRequest{})
	var gerr *GatewayError
	if !errors.As(err, &gerr) || gerr.Message != "Invalid key" {
		t.Errorf("got %v", err)
	}
}

func TestPaystackVerify(t *testing.T) {
	tests := []struct {
		desc    string
		body    string
		success bool
		orderID uint
		wantErr bool
	}{
		{"success", `{"status":true,"data":{"status":"success","reference":"r1","amount":50000,"metadata":{"order_id":3}}}`, true, 3, false},
		{"abandoned", `{"status":true,"data":{"status":"abandoned","reference":"r1","gateway_response":"The transaction was not completed","metadata":""}}`, false, 0, false},
		{"unknown reference", `{"status":false,"message":"Transaction reference not found"}`, false, 0, true},
		{"garbage", `<html>`, false, 0, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transaction/verify/r1" {
				t.Errorf("%s: path %q", tt.desc, r.URL.Path)
			}
			w.Write([]byte(tt.body))
		}))
		v, err := NewPaystackClient(srv.URL, "sk", time.Second).Verify(context.Background(), "r1")
		srv.Close()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err %v", tt.desc, err)
			continue
		}
		if err != nil {
			continue
		}
		if v.Success() != tt.success || v.OrderID != tt.orderID {
			t.Errorf("%s: got %+v", tt.desc, v)
		}
	}
}
