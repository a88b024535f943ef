package cdp

// HookScript 在页面脚本执行前注入，将 fetch/XHR/媒体 src/Hls.js 加载的清单地址
// 以 "M3U8_<TAG>:<url>" 的形式打印到控制台
const HookScript = `(function () {
  var re = /\.m3u8(\?|#|$)/i;
  var emit = function (tag, url) { try { console.log(tag + ':' + url); } catch (e) {} };
  try {
    var _fetch = window.fetch;
    window.fetch = function () {
      try {
        var a = arguments[0];
        var u = typeof a === 'string' ? a : (a && a.url);
        if (u && re.test(u)) emit('M3U8_FETCH', u);
      } catch (e) {}
      return _fetch.apply(this, arguments);
    };
  } catch (e) {}
  try {
    var _open = XMLHttpRequest.prototype.open;
    XMLHttpRequest.prototype.open = function (method, url) {
      try { if (url && re.test(url)) emit('M3U8_XHR', url); } catch (e) {}
      return _open.apply(this, arguments);
    };
  } catch (e) {}
  try {
    var desc = Object.getOwnPropertyDescriptor(HTMLMediaElement.prototype, 'src');
    if (desc && desc.set) {
      Object.defineProperty(HTMLMediaElement.prototype, 'src', {
        set: function (v) {
          try { if (typeof v === 'string' && re.test(v)) emit('M3U8_MEDIA_SRC', v); } catch (e) {}
          return desc.set.call(this, v);
        },
        get: desc.get,
        configurable: true
      });
    }
  } catch (e) {}
  var patchHls = function () {
    try {
      if (window.Hls && window.Hls.prototype && !window.Hls.__m3u8_patched) {
        var orig = window.Hls.prototype.loadSource;
        window.Hls.prototype.loadSource = function (url) {
          try { if (url && re.test(url)) emit('M3U8_HLS_LOAD', url); } catch (e) {}
          return orig.apply(this, arguments);
        };
        window.Hls.__m3u8_patched = true;
      }
    } catch (e) {}
  };
  patchHls();
  setInterval(patchHls, 1000);
})();`

// KickScript 导航完成后执行：点击常见播放按钮、静音播放 video，
// 并扫描 DOM 中的 src/data-* 属性与内联脚本，结果以 M3U8_DOM 行打印
const KickScript = `(function () {
  var sels = ['button[aria-label*="play" i]', 'button[title*="play" i]', '.vjs-big-play-button',
    '.jw-icon-playback', '.plyr__control--overlaid', 'button[class*="play" i]'];
  sels.forEach(function (s) { try { var el = document.querySelector(s); if (el) el.click(); } catch (e) {} });
  document.querySelectorAll('video').forEach(function (v) {
    try { v.muted = true; var p = v.play(); if (p && p.catch) p.catch(function () {}); } catch (e) {}
  });
  var urls = {};
  var add = function (u) { try { if (u) urls[new URL(u, location.href).href] = true; } catch (e) {} };
  document.querySelectorAll('video, source').forEach(function (el) { add(el.src); });
  document.querySelectorAll('[data-src],[data-hls],[data-video],[data-m3u8]').forEach(function (el) {
    ['data-src', 'data-hls', 'data-video', 'data-m3u8'].forEach(function (a) { add(el.getAttribute(a)); });
  });
  document.querySelectorAll('script').forEach(function (s) {
    var m = (s.textContent || '').match(/https?:\/\/[^'"\s<>]+\.m3u8[^'"\s<>]*/gi);
    if (m) m.forEach(add);
  });
  Object.keys(urls).forEach(function (u) { if (/\.m3u8/i.test(u)) console.log('M3U8_DOM:' + u); });
})();`
