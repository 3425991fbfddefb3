package render

const pageTemplate = `<!DOCTYPE html>
<html lang="id">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0, viewport-fit=cover">
<title>Grup Premium</title>
<script src="https://telegram.org/js/telegram-web-app.js"></script>
<style>
*{box-sizing:border-box;margin:0;padding:0}
body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;background:#0d0d12;color:#eee;line-height:1.5;padding-bottom:96px}
button{font:inherit;border:0;border-radius:10px;padding:8px 14px;cursor:pointer}
button[disabled]{opacity:.45;cursor:default}
code{display:block;white-space:pre-wrap;word-break:break-word;font-size:12px;color:#f88;margin-top:6px}
.btn-solid{background:linear-gradient(135deg,#00e5ff 0%,#7c4dff 100%);color:#fff}
.btn-ghost{background:transparent;color:#9ab;border:1px solid #345}
a.btn-ghost{display:inline-block;padding:8px 14px;border-radius:10px;text-decoration:none}

/* List */
.list{display:flex;flex-direction:column;gap:12px;padding:12px}
.card{position:relative;display:flex;gap:12px;background:#16161f;border:1px solid #23233a;border-radius:14px;padding:10px;transition:border-color .2s,box-shadow .2s}
.card.selected{border-color:#00e5ff;box-shadow:0 0 12px rgba(0,229,255,.35)}
.check{position:absolute;top:8px;left:8px;width:22px;height:22px;border-radius:50%;background:#00e5ff;display:none;align-items:center;justify-content:center;z-index:2}
.card.selected .check{display:flex}
.thumb{flex:0 0 96px;height:96px;border-radius:10px;overflow:hidden;background:#1c1c1e}
.thumb img{width:100%;height:100%;object-fit:cover;display:block}
.meta{flex:1;display:flex;flex-direction:column;gap:4px;min-width:0}
.title{font-weight:600;font-size:15px}
.desc{font-size:13px;color:#aab;flex:1}
.meta button{align-self:flex-end}

/* Empty */
.empty{margin:48px 16px;padding:24px;border:1px dashed #445;border-radius:14px;text-align:center}
.empty-title{font-size:17px;font-weight:600;margin-bottom:6px}
.empty-msg{font-size:13px;color:#aab}

/* Footer */
.bar{position:fixed;left:0;right:0;bottom:0;display:flex;align-items:center;gap:10px;padding:12px;background:#111118;border-top:1px solid #23233a;z-index:10}
.cart{position:relative;font-size:20px}
.badge{position:absolute;top:-6px;right:-10px;min-width:18px;height:18px;border-radius:9px;background:#ff3d71;color:#fff;font-size:11px;text-align:center;line-height:18px;padding:0 4px}
.total{flex:1;text-align:right;font-weight:600}
.hint{position:fixed;left:12px;right:12px;bottom:72px;padding:8px 12px;border-radius:10px;background:#3a1520;color:#f99;font-size:13px}

/* Overlays */
.overlay{position:fixed;inset:0;background:rgba(0,0,0,.72);display:flex;align-items:flex-end;justify-content:center;z-index:20}
.overlay[hidden]{display:none}
.sheet{width:100%;max-width:560px;max-height:98vh;overflow:auto;background:#16161f;border-radius:16px 16px 0 0;padding:16px;display:flex;flex-direction:column;gap:12px}
.hero{width:100%;overflow:hidden;border-radius:12px;background:#1c1c1e}
.hero img{width:100%;height:100%;object-fit:cover;display:block}
.row{display:flex;justify-content:flex-end;gap:8px;flex-wrap:wrap}
.pay-box{width:100%;max-width:420px;margin:auto;background:#16161f;border-radius:16px;padding:20px;text-align:center;display:flex;flex-direction:column;gap:10px}
.pay-title{font-weight:700}
.pay-msg{opacity:.85}
.pay-amount{font-size:20px;font-weight:700}
.pay-timer{font-variant-numeric:tabular-nums;color:#9ab}
#qr-img{width:100%;max-width:280px;aspect-ratio:1;margin:0 auto;background:#fff;border-radius:8px}
.pay-failed .pay-title,.pay-expired .pay-title,.pay-error .pay-title{color:#f55}
.pay-success .pay-title{color:#3c6}
</style>
</head>
<body data-sid="{{.SessionID}}">
<main id="catalog">{{template "catalog" .CatalogView}}</main>
<div id="detail" class="overlay" hidden></div>
<div id="payment" class="overlay"{{if not .Payment.Visible}} hidden{{end}}>{{template "payment" .Payment}}</div>
<script>
var tg = window.Telegram && window.Telegram.WebApp;
if (tg) { tg.ready(); tg.expand(); }

var sid = document.body.getAttribute('data-sid');
var base = '/api/session/' + encodeURIComponent(sid);
var screen = 'hidden';

function post(path, body) {
 return fetch(base + path, {
  method: 'POST',
  headers: {'Content-Type': 'application/json'},
  body: JSON.stringify(body || {})
 }).then(function(r){return r.json()});
}

function apply(data) {
 if (!data) return;
 if (data.catalog !== undefined) document.getElementById('catalog').innerHTML = data.catalog;
 if (data.payment) setPayment(data.payment);
}

function setPayment(msg) {
 var m = document.getElementById('payment');
 var live = (screen === 'qr' || screen === 'waiting_qr') && msg.screen === screen;
 if (live && document.getElementById('countdown')) {
  document.getElementById('countdown').textContent = msg.countdown;
  document.getElementById('pay-msg').textContent = msg.message;
 } else {
  m.innerHTML = msg.html;
  m.hidden = msg.screen === 'hidden';
 }
 screen = msg.screen;
 if (msg.close_host) setTimeout(function() {
  if (tg && tg.close) tg.close();
  post('/checkout/close').then(apply).catch(function(){});
 }, 1200);
}

function sendIdentity() {
 var uid = 0;
 if (tg && tg.initDataUnsafe && tg.initDataUnsafe.user) uid = tg.initDataUnsafe.user.id || 0;
 post('/identity', {user_id: uid, init_data: (tg && tg.initData) || ''}).then(apply).catch(function(){});
}

function openDetail(id) {
 fetch(base + '/detail/' + encodeURIComponent(id) + '?vh=' + window.innerHeight)
  .then(function(r){return r.json()})
  .then(function(data) {
   var d = document.getElementById('detail');
   d.innerHTML = data.html;
   d.hidden = false;
  }).catch(function(){});
}

function closeDetail() {
 var d = document.getElementById('detail');
 d.hidden = true;
 d.innerHTML = '';
}

document.addEventListener('click', function(e) {
 var el = e.target.closest('[data-action]');
 if (!el) {
  var card = e.target.closest('.card');
  if (card) openDetail(card.getAttribute('data-id'));
  else if (e.target.id === 'detail') closeDetail();
  return;
 }
 if (el.disabled) return;
 e.preventDefault();
 var id = el.getAttribute('data-id');
 switch (el.getAttribute('data-action')) {
  case 'toggle':
   post('/items/' + encodeURIComponent(id) + '/toggle').then(apply);
   break;
  case 'detail-toggle':
   post('/items/' + encodeURIComponent(id) + '/toggle').then(apply);
   closeDetail();
   break;
  case 'detail-close':
   closeDetail();
   break;
  case 'select-all':
   post('/select-all').then(apply);
   break;
  case 'pay':
   post('/checkout').then(apply);
   break;
  case 'close':
   post('/checkout/close').then(apply);
   break;
 }
});

// load and error do not bubble, so listen in the capture phase
document.addEventListener('load', function(e) {
 if (e.target.id === 'qr-img') post('/checkout/qr-loaded', {width: e.target.naturalWidth, height: e.target.naturalHeight});
}, true);
document.addEventListener('error', function(e) {
 if (e.target.id === 'qr-img') post('/checkout/qr-error');
}, true);

function connect() {
 var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
 var ws = new WebSocket(proto + location.host + base + '/ws');
 ws.onmessage = function(ev) {
  var msg = JSON.parse(ev.data);
  if (msg.type === 'payment') setPayment(msg);
 };
 ws.onclose = function() {
  fetch(base + '/payment').then(function(r) {
   return r.json().then(function(data) {
    if (r.status === 404 && data.error === 'unknown_session') {
     sessionGone();
     return;
    }
    apply(data);
    setTimeout(connect, 2000);
   });
  }).catch(function(){ setTimeout(connect, 2000); });
 };
}

// a swept session never comes back, so stop reconnecting
function sessionGone() {
 var n = document.createElement('div');
 n.className = 'hint';
 n.textContent = 'Sesi berakhir. Muat ulang halaman.';
 document.body.insertBefore(n, document.body.firstChild);
}

sendIdentity();
connect();
</script>
</body>
</html>`

const catalogTemplate = `{{if .Empty}}<div class="empty">
<div class="empty-title">Katalog kosong</div>
<div class="empty-msg">Belum ada grup yang bisa dibeli. Operator: periksa konfigurasi /api/config di server.</div>
{{if .LoadError}}<code>{{.LoadError}}</code>{{end}}
</div>{{else}}<div class="list">{{range .Cards}}
<article class="card{{if .Selected}} selected{{end}}" data-id="{{.ID}}">
<div class="check" data-action="toggle" data-id="{{.ID}}"><svg viewBox="0 0 24 24" width="16" height="16"><path fill="#fff" d="M9,16.2 4.8,12 3.4,13.4 9,19 21,7 19.6,5.6"/></svg></div>
<div class="thumb">{{if .ImageSrc}}<img src="{{.ImageSrc}}" alt="{{.Name}}" loading="lazy">{{end}}</div>
<div class="meta">
<div class="title">{{.Name}}</div>
<div class="desc">{{.Summary}}</div>
<button type="button" class="{{if .Selected}}btn-ghost{{else}}btn-solid{{end}}" data-action="toggle" data-id="{{.ID}}">{{.ButtonLabel}}</button>
</div>
</article>{{end}}
</div>{{end}}
<footer class="bar">
<button type="button" class="btn-ghost" data-action="select-all" data-state="{{.Summary.AllState}}"{{if .Empty}} disabled{{end}}>{{if eq .Summary.AllState "all"}}Batal semua{{else}}Pilih semua{{end}}</button>
<div class="cart">&#128722;{{if .Summary.Count}}<span id="cartBadge" class="badge">{{.Summary.Count}}</span>{{end}}</div>
<div id="total-text" class="total">{{rupiah .Summary.Total}}</div>
<button type="button" id="pay" class="btn-solid" data-action="pay"{{if not .Summary.CanCheckout}} disabled{{end}}>Bayar</button>
</footer>
{{if and .Summary.NoIdentity .Summary.Count}}<div class="hint">Gagal membaca user Telegram. Buka lewat tombol bot.</div>{{end}}`

const detailTemplate = `<div class="sheet" id="sheet" data-id="{{.ID}}">
<div class="hero" style="max-height: {{.HeroHeight}}px">{{if .ImageSrc}}<img src="{{.ImageSrc}}" alt="{{.Name}}">{{end}}</div>
<div class="title">{{.Name}}</div>
<div class="desc">{{.Description}}</div>
<div class="row">
<button type="button" class="btn-ghost" data-action="detail-close">Tutup</button>
<button type="button" class="{{if .Selected}}btn-ghost{{else}}btn-solid{{end}}" data-action="detail-toggle" data-id="{{.ID}}">{{.ButtonLabel}}</button>
</div>
</div>`

const paymentTemplate = `{{if .Visible}}<div class="pay-box pay-{{.Screen}}" data-state="{{.State}}">
<div class="pay-title">{{.Title}}</div>
{{if .QRSrc}}<img id="qr-img" alt="QR" src="{{.QRSrc}}">{{end}}
<div id="pay-msg" class="pay-msg">{{.Message}}</div>
{{if .Detail}}<code>{{.Detail}}</code>{{end}}
{{if .Amount}}<div class="pay-amount">{{rupiah .Amount}}</div>{{end}}
{{if .Countdown}}<div class="pay-timer">Sisa waktu <span id="countdown">{{.Countdown}}</span></div>{{end}}
<div class="row">
{{if .Terminal}}<button type="button" class="btn-solid" data-action="close">Kembali ke katalog</button>
{{if .SupportURL}}<a class="btn-ghost" href="{{.SupportURL}}" target="_blank" rel="noopener">Hubungi support</a>{{end}}
{{else if .Closable}}<button type="button" class="btn-ghost" data-action="close">{{.CloseLabel}}</button>{{end}}
</div>
</div>{{end}}`
