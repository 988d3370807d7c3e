package capture

import (
	"encoding/json"
	"fmt"
)

// Page-side hook scripts. These run in the page's own (privileged) context;
// everything is kept under window.__ntpCapture so Uninstall can restore the
// patched entry points.

// blobInterceptJS patches the four client-side download entry points. Any
// Blob above the size threshold is read immediately and cached by its blob
// URL handle; a later anchor click or window.open carrying that handle is
// suppressed and resolved against the cache, with a same-origin fetch
// fallback on a miss.
const blobInterceptJS = `
(function () {
  'use strict';
  if (window.__ntpCapture) return;

  var MIN_BLOB_SIZE = 100;
  var state = {
    blobs: [],
    origCreateObjectURL: URL.createObjectURL.bind(URL),
    origAnchorClick: HTMLAnchorElement.prototype.click,
    origWindowOpen: window.open,
    origCreateElement: document.createElement.bind(document)
  };
  window.__ntpCapture = state;

  function notify(kind, base64, size, contentType, filename, blobUrl) {
    try {
      window.` + captureBinding + `(JSON.stringify({
        kind: kind, base64: base64, size: size,
        contentType: contentType || '', filename: filename || '', blobUrl: blobUrl || ''
      }));
    } catch (e) { /* binding not present */ }
  }

  function kindOf(contentType, filename) {
    var ct = (contentType || '').toLowerCase();
    var fn = (filename || '').toLowerCase();
    if (ct.indexOf('xml') >= 0 || fn.slice(-4) === '.xml') return 'xml';
    return 'pdf';
  }

  function readBlob(blob, cb) {
    var reader = new FileReader();
    reader.onload = function () { cb(reader.result.split(',')[1]); };
    reader.readAsDataURL(blob);
  }

  URL.createObjectURL = function (obj) {
    var blobUrl = state.origCreateObjectURL(obj);
    if (obj instanceof Blob && obj.size > MIN_BLOB_SIZE) {
      readBlob(obj, function (base64) {
        state.blobs.push({
          blobUrl: blobUrl, base64: base64, size: obj.size,
          contentType: obj.type || '', filename: null
        });
      });
    }
    return blobUrl;
  };

  function handleDownloadClick(href, download) {
    var hit = null;
    for (var i = 0; i < state.blobs.length; i++) {
      if (state.blobs[i].blobUrl === href) { hit = state.blobs[i]; break; }
    }
    if (hit) {
      hit.filename = download;
      notify(kindOf(hit.contentType, download), hit.base64, hit.size,
             hit.contentType, download, href);
    } else {
      // Cache miss: the blob was created before installation or below the
      // threshold. Same-origin fetch of the blob URL still works here.
      fetch(href).then(function (r) { return r.blob(); }).then(function (blob) {
        readBlob(blob, function (base64) {
          notify(kindOf(blob.type, download), base64, blob.size, blob.type, download, href);
        });
      }).catch(function () {});
    }
    setTimeout(function () {
      try { URL.revokeObjectURL(href); } catch (e) {}
    }, 3000);
  }

  HTMLAnchorElement.prototype.click = function () {
    var href = this.href || '';
    var download = this.download || this.getAttribute('download') || '';
    if (href.indexOf('blob:') === 0 && download) {
      handleDownloadClick(href, download);
      return; // never reaches the disk
    }
    return state.origAnchorClick.call(this);
  };

  window.open = function (url) {
    if (url && typeof url === 'string' && url.indexOf('blob:') === 0) {
      handleDownloadClick(url, '');
      return null;
    }
    return state.origWindowOpen.apply(window, arguments);
  };

  document.createElement = function (tagName, options) {
    var el = state.origCreateElement(tagName, options);
    if (String(tagName).toLowerCase() === 'a') {
      var origClick = el.click.bind(el);
      el.click = function () {
        var href = el.href || '';
        var download = el.download || el.getAttribute('download') || '';
        if (href.indexOf('blob:') === 0 && download) {
          handleDownloadClick(href, download);
          return;
        }
        return origClick();
      };
    }
    return el;
  };
})();`

// blobUninstallJS restores the entry points patched by blobInterceptJS
const blobUninstallJS = `
(function () {
  var state = window.__ntpCapture;
  if (!state) return;
  URL.createObjectURL = state.origCreateObjectURL;
  HTMLAnchorElement.prototype.click = state.origAnchorClick;
  window.open = state.origWindowOpen;
  document.createElement = state.origCreateElement;
  delete window.__ntpCapture;
})();`

// networkSniffJS wraps fetch and XMLHttpRequest; responses whose content
// type sniffs as PDF/XML are captured on completion, independent of any
// anchor-click timing.
const networkSniffJS = `
(function () {
  'use strict';
  if (window.__ntpSniff) return;

  var state = {
    origFetch: window.fetch,
    origXHROpen: XMLHttpRequest.prototype.open,
    origXHRSend: XMLHttpRequest.prototype.send
  };
  window.__ntpSniff = state;

  function notify(kind, base64, size, contentType, filename) {
    try {
      window.` + captureBinding + `(JSON.stringify({
        kind: kind, base64: base64, size: size,
        contentType: contentType || '', filename: filename || '', blobUrl: ''
      }));
    } catch (e) {}
  }

  function sniffKind(contentType) {
    var ct = (contentType || '').toLowerCase();
    if (ct.indexOf('pdf') >= 0) return 'pdf';
    if (ct.indexOf('xml') >= 0 && ct.indexOf('html') < 0) return 'xml';
    return null;
  }

  function captureBlobResponse(blob, contentType, url) {
    var reader = new FileReader();
    reader.onload = function () {
      var base64 = reader.result.split(',')[1];
      var name = '';
      try { name = new URL(url, location.href).pathname.split('/').pop() || ''; } catch (e) {}
      notify(sniffKind(contentType), base64, blob.size, contentType, name);
    };
    reader.readAsDataURL(blob);
  }

  window.fetch = function () {
    var url = arguments[0] && arguments[0].url ? arguments[0].url : String(arguments[0] || '');
    return state.origFetch.apply(window, arguments).then(function (resp) {
      var ct = resp.headers.get('content-type') || '';
      if (sniffKind(ct)) {
        resp.clone().blob().then(function (blob) {
          captureBlobResponse(blob, ct, url);
        }).catch(function () {});
      }
      return resp;
    });
  };

  XMLHttpRequest.prototype.open = function (method, url) {
    this.__ntpURL = String(url || '');
    return state.origXHROpen.apply(this, arguments);
  };

  XMLHttpRequest.prototype.send = function () {
    var xhr = this;
    xhr.addEventListener('load', function () {
      var ct = xhr.getResponseHeader('content-type') || '';
      if (!sniffKind(ct)) return;
      if (xhr.response instanceof Blob) {
        captureBlobResponse(xhr.response, ct, xhr.__ntpURL);
      }
    });
    return state.origXHRSend.apply(this, arguments);
  };
})();`

// networkUninstallJS restores fetch and XMLHttpRequest
const networkUninstallJS = `
(function () {
  var state = window.__ntpSniff;
  if (!state) return;
  window.fetch = state.origFetch;
  XMLHttpRequest.prototype.open = state.origXHROpen;
  XMLHttpRequest.prototype.send = state.origXHRSend;
  delete window.__ntpSniff;
})();`

// directFetchScript builds a page-context fetch of a plain URL, carrying
// the page's session cookies. Returns {ok, status, contentType, base64}.
func directFetchScript(url string, headers map[string]string) string {
	hdrJSON, _ := json.Marshal(headers)
	urlJSON, _ := json.Marshal(url)
	return fmt.Sprintf(`
(function () {
  return fetch(%s, {
    method: 'GET',
    headers: Object.assign({'Accept': 'application/pdf,application/xml,application/octet-stream,*/*'}, %s),
    credentials: 'include'
  }).then(function (resp) {
    if (!resp.ok) {
      return {ok: false, status: resp.status, contentType: '', base64: ''};
    }
    var ct = resp.headers.get('content-type') || '';
    return resp.blob().then(function (blob) {
      return new Promise(function (resolve) {
        var reader = new FileReader();
        reader.onload = function () {
          resolve({ok: true, status: resp.status, contentType: ct,
                   base64: (reader.result || '').split(',')[1] || ''});
        };
        reader.readAsDataURL(blob);
      });
    });
  }).catch(function (e) {
    return {ok: false, status: 0, contentType: '', base64: '', error: String(e)};
  });
})()`, urlJSON, hdrJSON)
}
